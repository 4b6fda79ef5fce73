// Package telemetry sends anonymous usage events to PostHog.
package telemetry

import (
	"runtime"

	"github.com/posthog/posthog-go"

	"wapor-downloader/internal/logging"
)

// Event names
const (
	EventAppStarted       = "app_started"
	EventDownloadStarted  = "download_started"
	EventDownloadFinished = "download_finished"
	EventDatasetSkipped   = "dataset_skipped"
	EventRasterSkipped    = "raster_skipped"
)

// sink is the part of posthog.Client the tracker needs
type sink interface {
	Enqueue(posthog.Message) error
	Close() error
}

// Tracker enqueues events for one installation. A Tracker without a client
// drops everything.
type Tracker struct {
	client     sink
	distinctID string
	version    string
	logger     *logging.Logger
}

// New creates a tracker for the PostHog project key. An empty key returns a
// no-op tracker.
func New(key, host, distinctID, version string, logger *logging.Logger) (*Tracker, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if key == "" {
		return Noop(), nil
	}

	client, err := posthog.NewWithConfig(key, posthog.Config{
		Endpoint: host,
	})
	if err != nil {
		return nil, err
	}
	return newTracker(client, distinctID, version, logger), nil
}

func newTracker(client sink, distinctID, version string, logger *logging.Logger) *Tracker {
	if distinctID == "" {
		distinctID = "anonymous"
	}
	return &Tracker{
		client:     client,
		distinctID: distinctID,
		version:    version,
		logger:     logger,
	}
}

// Noop returns a tracker that sends nothing
func Noop() *Tracker {
	return &Tracker{logger: logging.Discard()}
}

// Enabled reports whether events are sent
func (t *Tracker) Enabled() bool {
	return t != nil && t.client != nil
}

// Track enqueues an event. Version and platform are added to props.
func (t *Tracker) Track(event string, props map[string]interface{}) {
	if !t.Enabled() {
		return
	}

	properties := posthog.NewProperties().
		Set("version", t.version).
		Set("os", runtime.GOOS).
		Set("arch", runtime.GOARCH)
	for k, v := range props {
		properties.Set(k, v)
	}

	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		t.logger.Debug("telemetry event dropped", "event", event, "err", err)
	}
}

// Close flushes pending events
func (t *Tracker) Close() error {
	if !t.Enabled() {
		return nil
	}
	return t.client.Close()
}
