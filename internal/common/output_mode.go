package common

import "fmt"

// OutputMode selects how dekadal rates are written
type OutputMode string

const (
	// OutputAverage keeps the server's average daily rate
	OutputAverage OutputMode = "Average"

	// OutputCumulative scales dekadal rates by the number of days in the dekad
	OutputCumulative OutputMode = "Cumulative"
)

// ParseOutputMode converts a mode string to an OutputMode.
// Accepted values: "average", "cumulative" (any case)
func ParseOutputMode(mode string) (OutputMode, error) {
	switch mode {
	case "average", "Average", "AVERAGE", "":
		return OutputAverage, nil
	case "cumulative", "Cumulative", "CUMULATIVE":
		return OutputCumulative, nil
	default:
		return "", fmt.Errorf("invalid output mode: %s (must be 'average' or 'cumulative')", mode)
	}
}

// IsCumulative reports whether dekadal rates should be scaled to totals
func (m OutputMode) IsCumulative() bool {
	return m == OutputCumulative
}

// String returns the string representation of the output mode
func (m OutputMode) String() string {
	if m == "" {
		return string(OutputAverage)
	}
	return string(m)
}
