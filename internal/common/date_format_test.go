package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeRangeFilter(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "[2020-01-01,2020-01-11)", TimeRangeFilter(start, end))
}

func TestParseTimeRangeCode(t *testing.T) {
	start, end, err := ParseTimeRangeCode("[2020-01-01,2020-01-11)")
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", FormatISO8601(start))
	assert.Equal(t, "2020-01-11", FormatISO8601(end))

	_, _, err = ParseTimeRangeCode("2020-01")
	assert.Error(t, err)

	_, _, err = ParseTimeRangeCode("[2020-13-01,2020-01-11)")
	assert.Error(t, err)

	_, _, err = ParseTimeRangeCode("[2020-02-01,2020-01-11)")
	assert.Error(t, err)
}

func TestDaysInTimeRangeCode(t *testing.T) {
	cases := map[string]float64{
		"[2020-01-01,2020-01-11)": 10,
		"[2020-01-21,2020-02-01)": 11,
		"[2020-02-21,2020-03-01)": 9,
		"[2021-02-21,2021-03-01)": 8,
	}
	for code, want := range cases {
		got, err := DaysInTimeRangeCode(code)
		require.NoError(t, err, code)
		assert.Equal(t, want, got, code)
	}
}

func TestParseOutputMode(t *testing.T) {
	mode, err := ParseOutputMode("cumulative")
	require.NoError(t, err)
	assert.True(t, mode.IsCumulative())

	mode, err = ParseOutputMode("")
	require.NoError(t, err)
	assert.Equal(t, OutputAverage, mode)
	assert.False(t, mode.IsCumulative())

	_, err = ParseOutputMode("sum")
	assert.Error(t, err)
}

func TestParseISO8601Rejects(t *testing.T) {
	_, err := ParseISO8601("")
	assert.Error(t, err)
	_, err = ParseISO8601("01/01/2020")
	assert.Error(t, err)
}
