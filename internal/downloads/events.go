package downloads

import "time"

// State is a step of the download state machine
type State int

const (
	StateIdle State = iota
	StateCheckingInputs
	StatePreparingDownload
	StateCreatingList
	StateRequestingURL
	StateDownloading
	StateCorrectingRaster
	StateCompleted
	StateCompletedWithSkips
	StateCanceled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:               "Idle",
	StateCheckingInputs:     "Checking inputs",
	StatePreparingDownload:  "Preparing download",
	StateCreatingList:       "Creating data list",
	StateRequestingURL:      "Requesting download URL",
	StateDownloading:        "Downloading",
	StateCorrectingRaster:   "Correcting raster",
	StateCompleted:          "Download completed",
	StateCompletedWithSkips: "Download completed with skips",
	StateCanceled:           "Download canceled",
	StateFailed:             "Download failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether the session has ended in s
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithSkips, StateCanceled, StateFailed:
		return true
	}
	return false
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventType distinguishes status changes from progress updates
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventSkip     EventType = "skip"
)

// Event is emitted on every state change, progress step and skipped item
type Event struct {
	Type    EventType `json:"type"`
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`

	Dataset      string `json:"dataset,omitempty"`
	DatasetIndex int    `json:"datasetIndex"` // 1-based
	DatasetTotal int    `json:"datasetTotal"`
	Raster       string `json:"raster,omitempty"`
	RasterIndex  int    `json:"rasterIndex"` // 1-based
	RasterTotal  int    `json:"rasterTotal"`

	Err error `json:"-"`
}

// Percent estimates overall completion from the dataset and raster indices
func (e Event) Percent() int {
	if e.DatasetTotal == 0 {
		return 0
	}
	done := float64(e.DatasetIndex - 1)
	if e.RasterTotal > 0 {
		done += float64(e.RasterIndex) / float64(e.RasterTotal)
	}
	percent := int(done / float64(e.DatasetTotal) * 100)
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
