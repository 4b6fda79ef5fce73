// Package downloads runs WaPOR download sessions: it validates a request,
// signs in, and for every selected dataset lists the available rasters,
// requests crop jobs, downloads and corrects each raster in turn.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"wapor-downloader/internal/common"
	"wapor-downloader/internal/config"
	"wapor-downloader/internal/logging"
	"wapor-downloader/internal/raster"
	"wapor-downloader/internal/telemetry"
	"wapor-downloader/internal/utils/naming"
	"wapor-downloader/internal/wapor"
)

// eventBuffer is the capacity of a Handle's event channel. Events that do
// not fit are dropped.
const eventBuffer = 256

// Summary is the outcome of a session
type Summary struct {
	SessionDir string
	State      State
	Written    []string
	Skipped    []Skip
	Manifest   *Manifest
}

// Orchestrator drives download sessions against one workspace. Datasets and
// rasters are processed strictly one after another.
type Orchestrator struct {
	client             *wapor.Client
	fs                 afero.Fs
	settings           *config.UserSettings
	processor          *raster.Processor
	logger             *logging.Logger
	progressCallback   func(Event)
	logCallback        func(string)
	trackEventCallback func(string, map[string]interface{})
	now                func() time.Time
}

// NewOrchestrator creates an orchestrator with injected dependencies
func NewOrchestrator(
	client *wapor.Client,
	fs afero.Fs,
	settings *config.UserSettings,
	logger *logging.Logger,
	progressCallback func(Event),
	logCallback func(string),
	trackEventCallback func(string, map[string]interface{}),
) *Orchestrator {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Orchestrator{
		client:             client,
		fs:                 fs,
		settings:           settings,
		processor:          raster.NewProcessor(fs, logger),
		logger:             logger,
		progressCallback:   progressCallback,
		logCallback:        logCallback,
		trackEventCallback: trackEventCallback,
		now:                time.Now,
	}
}

// SetClock replaces the time source used for session names and events
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// emitLog emits a log message if callback is set
func (o *Orchestrator) emitLog(message string) {
	if o.logCallback != nil {
		o.logCallback(message)
	}
}

// emitProgress emits an event if callback is set
func (o *Orchestrator) emitProgress(e Event) {
	if o.progressCallback != nil {
		o.progressCallback(e)
	}
}

// trackEvent tracks an analytics event if callback is set
func (o *Orchestrator) trackEvent(event string, properties map[string]interface{}) {
	if o.trackEventCallback != nil {
		o.trackEventCallback(event, properties)
	}
}

// Run executes a session synchronously. Events go to the progress callback.
// Cancelling ctx stops the session before the next dataset or raster and
// aborts a pending job wait. The error is non-nil only when the session
// failed; a canceled or partially skipped session returns a nil error and
// reports its state in the Summary.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	return o.run(ctx, req, nil, o.emitProgress)
}

// Handle controls a session started with Start
type Handle struct {
	events   chan Event
	canceled atomic.Bool
	done     chan struct{}

	summary *Summary
	err     error
}

// Events returns the session's events. The channel is closed when the
// session ends. Sends never block; a slow reader misses events.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Cancel asks the session to stop before its next dataset or raster
func (h *Handle) Cancel() {
	h.canceled.Store(true)
}

// Done is closed when the session has ended
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the session ends and returns its outcome
func (h *Handle) Wait() (*Summary, error) {
	<-h.done
	return h.summary, h.err
}

// Start runs a session in its own goroutine
func (o *Orchestrator) Start(ctx context.Context, req Request) *Handle {
	h := &Handle{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer close(h.events)

		h.summary, h.err = o.run(ctx, req, &h.canceled, func(e Event) {
			o.emitProgress(e)
			select {
			case h.events <- e:
			default:
			}
		})
	}()
	return h
}

// fatalError ends the session when StopOnRasterError is set
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "stopping on raster error: " + e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// isFatal reports whether err ends the session instead of skipping an item
func isFatal(err error) bool {
	var apiErr *wapor.Error
	if errors.As(err, &apiErr) && apiErr.Fatal() {
		return true
	}
	var stop *fatalError
	return errors.As(err, &stop)
}

// session tracks the position of one run for events and the manifest
type session struct {
	*Session

	o        *Orchestrator
	emit     func(Event)
	canceled *atomic.Bool

	state        State
	dataset      string
	datasetIndex int
	datasetTotal int
	raster       string
	rasterIndex  int
	rasterTotal  int
}

func (s *session) event(kind EventType, state State, message string, err error) Event {
	return Event{
		Type:         kind,
		State:        state,
		Message:      message,
		Time:         s.o.now(),
		Dataset:      s.dataset,
		DatasetIndex: s.datasetIndex,
		DatasetTotal: s.datasetTotal,
		Raster:       s.raster,
		RasterIndex:  s.rasterIndex,
		RasterTotal:  s.rasterTotal,
		Err:          err,
	}
}

func (s *session) send(e Event) {
	if s.Session != nil && s.Manifest != nil {
		s.Manifest.UpdateProgress(e)
	}
	s.emit(e)
}

func (s *session) status(state State, message string) {
	s.state = state
	if message != "" {
		s.o.emitLog(message)
	}
	s.send(s.event(EventStatus, state, message, nil))
}

func (s *session) progress(message string) {
	s.send(s.event(EventProgress, StateCorrectingRaster, message, nil))
}

func (s *session) skip(rasterID string, err error) {
	item := Skip{Dataset: s.dataset, Raster: rasterID, Reason: err.Error()}
	s.Manifest.Skipped = append(s.Manifest.Skipped, item)

	message := fmt.Sprintf("Skipping dataset %s: %v", s.dataset, err)
	event := telemetry.EventDatasetSkipped
	if rasterID != "" {
		message = fmt.Sprintf("Skipping raster %s of %s: %v", rasterID, s.dataset, err)
		event = telemetry.EventRasterSkipped
	}
	s.o.logger.Warn("skipped", "cube", s.dataset, "raster", rasterID, "err", err)
	s.o.emitLog(message)
	s.send(s.event(EventSkip, s.state, message, err))
	s.o.trackEvent(event, map[string]interface{}{
		"workspace": s.Workspace,
		"dataset":   s.dataset,
	})
	s.saveManifest()
}

func (s *session) isCanceled(ctx context.Context) bool {
	return (s.canceled != nil && s.canceled.Load()) || ctx.Err() != nil
}

func (s *session) saveManifest() {
	if err := s.Manifest.SaveToFile(s.o.fs, s.Dir); err != nil {
		s.o.logger.Warn("failed to save session manifest", "dir", s.Dir, "err", err)
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, canceled *atomic.Bool, emit func(Event)) (*Summary, error) {
	s := &session{o: o, emit: emit, canceled: canceled, datasetTotal: len(req.Datasets)}
	summary := &Summary{State: StateIdle}

	s.status(StateCheckingInputs, "")
	inputs, err := validate(o.fs, req)
	if err != nil {
		return o.fail(s, summary, err)
	}

	s.status(StatePreparingDownload, "Preparing download")
	prepared, err := o.prepare(ctx, req, inputs)
	if err != nil {
		return o.fail(s, summary, err)
	}
	s.Session = prepared
	summary.SessionDir = prepared.Dir
	summary.Manifest = prepared.Manifest

	o.logger.Info("download session started", "dir", prepared.Dir, "datasets", len(req.Datasets))
	o.trackEvent(telemetry.EventDownloadStarted, map[string]interface{}{
		"workspace":  prepared.Workspace,
		"datasets":   len(req.Datasets),
		"cumulative": req.Cumulative,
		"clip":       prepared.Cutline != nil,
	})

	for i, code := range req.Datasets {
		if s.isCanceled(ctx) {
			break
		}
		s.dataset, s.datasetIndex = code, i+1
		s.raster, s.rasterIndex, s.rasterTotal = "", 0, 0

		if err := o.downloadDataset(ctx, s, code); err != nil {
			if isFatal(err) {
				return o.fail(s, summary, err)
			}
			s.skip("", err)
		}
	}

	state := StateCompleted
	message := "Download completed"
	switch {
	case s.isCanceled(ctx):
		state, message = StateCanceled, "Download canceled"
		s.Manifest.MarkCancelled()
	case len(s.Manifest.Skipped) > 0:
		state = StateCompletedWithSkips
		message = fmt.Sprintf("Download completed, %d item(s) skipped", len(s.Manifest.Skipped))
		s.Manifest.MarkCompleted()
	default:
		s.Manifest.MarkCompleted()
	}
	s.saveManifest()

	summary.State = state
	summary.Written = s.Manifest.Written
	summary.Skipped = s.Manifest.Skipped

	o.logger.Info("download session finished", "state", state, "written", len(summary.Written), "skipped", len(summary.Skipped))
	s.status(state, message)
	o.trackEvent(telemetry.EventDownloadFinished, map[string]interface{}{
		"state":   state.String(),
		"written": len(summary.Written),
		"skipped": len(summary.Skipped),
	})
	return summary, nil
}

// fail ends the session in StateFailed
func (o *Orchestrator) fail(s *session, summary *Summary, err error) (*Summary, error) {
	summary.State = StateFailed
	if s.Session != nil {
		s.Manifest.MarkFailed(err)
		s.saveManifest()
		summary.Written = s.Manifest.Written
		summary.Skipped = s.Manifest.Skipped
	}

	o.logger.Error("download session failed", "err", err)
	o.emitLog("Download failed: " + err.Error())
	s.send(s.event(EventStatus, StateFailed, err.Error(), err))
	o.trackEvent(telemetry.EventDownloadFinished, map[string]interface{}{
		"state": StateFailed.String(),
	})
	return summary, err
}

// prepare signs in and creates the session directory and manifest
func (o *Orchestrator) prepare(ctx context.Context, req Request, inputs *checkedInputs) (*Session, error) {
	margin := time.Duration(o.settings.TokenMarginSeconds) * time.Second
	tokens := wapor.NewTokenManager(o.client, req.APIKey, margin)
	if _, err := tokens.Authenticate(ctx); err != nil {
		return nil, err
	}

	workspace := o.client.Workspace()
	started := o.now()
	dir := filepath.Join(req.Destination, naming.SessionDirName(workspace, started))
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	manifest := NewManifest(workspace, req, BoundingBoxFromBound(inputs.bound))
	manifest.MarkStarted()
	if err := manifest.SaveToFile(o.fs, dir); err != nil {
		return nil, err
	}

	return &Session{
		ID:        manifest.ID,
		Dir:       dir,
		Workspace: workspace,
		Started:   started,
		Request:   req,
		Bound:     inputs.bound,
		Cutline:   inputs.cutline,
		Tokens:    tokens,
		Catalog:   o.client.NewCatalog(o.settings.CatalogTagsFor(workspace)),
		Manifest:  manifest,
	}, nil
}

// downloadDataset lists and downloads every raster of one dataset. The
// returned error skips the dataset, or ends the session when fatal.
func (o *Orchestrator) downloadDataset(ctx context.Context, s *session, code string) error {
	s.status(StateCreatingList, fmt.Sprintf("Starting download for %s, item %d of %d",
		code, s.datasetIndex, s.datasetTotal))

	cube, err := s.Catalog.ResolveDataset(ctx, code)
	if err != nil {
		return err
	}
	rows, err := o.client.QueryAvailability(ctx, cube, s.Request.Start, s.Request.End, s.Request.Filters)
	if err != nil {
		return err
	}

	dir := s.DatasetDir(code)
	if err := ValidateOutputPath(s.Dir, dir); err != nil {
		return err
	}
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}
	if err := WriteAvailabilityList(o.fs, s.ListPath(code), cube, rows); err != nil {
		return err
	}
	if o.settings.LegendAllowed(s.Workspace) && cube.IsLegendCube(o.settings.LegendMarker) {
		if err := WriteLegend(o.fs, s.LegendPath(code), cube); err != nil {
			return err
		}
	}

	if len(rows) == 0 {
		o.logger.Info("no rasters available", "cube", code)
		o.emitLog(fmt.Sprintf("No rasters of %s in the selected period", code))
		return nil
	}

	opts := raster.Options{
		Multiplier:      cube.Measure.Multiplier,
		CumulativeDekad: s.Request.Cumulative && o.settings.CumulativeAllowed(s.Workspace) && cube.HasDimension(common.DimensionDekad),
		Cutline:         s.Cutline,
	}
	if threshold, ok := config.ThresholdFor(o.settings.MaskRules, s.Workspace, code); ok {
		opts.Mask = &raster.Mask{Threshold: threshold}
	}

	s.rasterTotal = len(rows)
	for j, row := range rows {
		if s.isCanceled(ctx) {
			return nil
		}
		s.raster, s.rasterIndex = row.RasterID, j+1

		path, err := o.downloadRaster(ctx, s, cube, row, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isFatal(err) {
				return err
			}
			if o.settings.StopOnRasterError {
				return &fatalError{err: err}
			}
			s.skip(row.RasterID, err)
			continue
		}

		s.Manifest.Written = append(s.Manifest.Written, path)
		s.progress(fmt.Sprintf("Saved raster %d of %d of %s", s.rasterIndex, s.rasterTotal, code))
		s.saveManifest()
	}
	return nil
}

// downloadRaster requests, downloads and corrects one raster and returns
// the written path
func (o *Orchestrator) downloadRaster(ctx context.Context, s *session, cube *wapor.Cube, row wapor.AvailabilityRow, opts raster.Options) (string, error) {
	position := fmt.Sprintf("%s, raster %d of %d", cube.Code, s.rasterIndex, s.rasterTotal)

	s.status(StateRequestingURL, "Requesting download URL for "+position)
	jobURL, err := o.client.SubmitCropJob(ctx, s.Tokens, cube, s.Bound, row)
	if err != nil {
		return "", err
	}
	result, err := o.client.AwaitJob(ctx, jobURL)
	if err != nil {
		return "", err
	}
	if result.DownloadURL == "" {
		return "", fmt.Errorf("job %s returned %s output instead of a raster", jobURL, result.Type)
	}

	s.status(StateDownloading, "Downloading "+position)
	data, err := o.client.Download(ctx, result.DownloadURL)
	if err != nil {
		return "", err
	}

	s.status(StateCorrectingRaster, "Correcting "+position)
	path := s.RasterPath(cube.Code, row)
	if err := ValidateOutputPath(s.Dir, path); err != nil {
		return "", err
	}
	opts.TimeCode = row.TimeCode
	opts.OutputPath = path
	if err := o.processor.CorrectAndSave(data, opts); err != nil {
		return "", err
	}
	return path, nil
}
