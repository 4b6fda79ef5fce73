package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wapor-downloader/internal/config"
	"wapor-downloader/internal/logging"
	"wapor-downloader/internal/wapor"
	"wapor-downloader/pkg/geotiff"
)

var sessionTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

const sessionDir = "/out/WAPOR_2 2024-01-02-03-04-05"

func testSettings() *config.UserSettings {
	s := config.DefaultSettings()
	s.CatalogTags = []string{"L1"}
	s.TelemetryEnabled = false
	return s
}

func testRequest(datasets ...string) Request {
	return Request{
		APIKey:      testAPIKey,
		Datasets:    datasets,
		BBox:        &BoundingBox{South: 8, West: 38, North: 12, East: 42},
		Start:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		Destination: "/out",
	}
}

// recorder collects everything an orchestrator reports through callbacks
type recorder struct {
	mu     sync.Mutex
	events []Event
	logs   []string
	tracks []string
}

func (r *recorder) progress(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) log(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, message)
}

func (r *recorder) track(event string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks = append(r.tracks, event)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []State
	for _, e := range r.events {
		if e.Type == EventStatus {
			states = append(states, e.State)
		}
	}
	return states
}

func newTestOrchestrator(api *fakeWaPOR, fs afero.Fs, settings *config.UserSettings, rec *recorder) *Orchestrator {
	o := NewOrchestrator(api.client(settings), fs, settings, logging.NewTestLogger(), rec.progress, rec.log, rec.track)
	o.SetClock(func() time.Time { return sessionTime })
	return o
}

func readRaster(t *testing.T, fs afero.Fs, path string) *geotiff.Raster {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	r, err := geotiff.DecodeBytes(data)
	require.NoError(t, err)
	return r
}

func TestRunDownloadsAndCorrectsDekads(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	fs := afero.NewMemMapFs()
	rec := &recorder{}

	req := testRequest("L1_AETI_D")
	req.Cumulative = true
	summary, err := newTestOrchestrator(api, fs, testSettings(), rec).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, summary.State)
	assert.Equal(t, sessionDir, summary.SessionDir)
	require.Len(t, summary.Written, 2)
	assert.Empty(t, summary.Skipped)

	first := filepath.Join(sessionDir, "L1_AETI_D", "L1_AETI_2001[2020-01-01,2020-01-11).tif")
	assert.Equal(t, first, summary.Written[0])

	// 10 * multiplier 0.1 * 10 days
	r := readRaster(t, fs, first)
	assert.InDelta(t, 10.0, r.At(1, 1), 1e-6)
	assert.True(t, r.IsNoData(r.At(0, 0)))
	assert.Equal(t, [6]float64{38, 1, 0, 12, 0, -1}, r.GeoTransform)
	assert.Equal(t, 4326, r.GeoKeys.EPSG())

	// raw downloads are removed
	exists, err := afero.Exists(fs, filepath.Join(sessionDir, "L1_AETI_D", "raw_L1_AETI_2001[2020-01-01,2020-01-11).tif"))
	require.NoError(t, err)
	assert.False(t, exists)

	list, err := afero.ReadFile(fs, filepath.Join(sessionDir, "L1_AETI_D list.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(list), "DEKAD,DEKAD-code,DEKAD-description,raster_id,bbox\n")
	assert.Contains(t, string(list), "2020-01 D2,\"[2020-01-11,2020-01-21)\",NA,L1_AETI_2002,")

	manifest, err := LoadManifest(fs, filepath.Join(sessionDir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, SessionStatusCompleted, manifest.Status)
	assert.Len(t, manifest.Written, 2)
	assert.Equal(t, 100, manifest.Progress.Percent)

	states := rec.states()
	require.NotEmpty(t, states)
	assert.Equal(t, StateCheckingInputs, states[0])
	assert.Equal(t, StatePreparingDownload, states[1])
	assert.Equal(t, StateCreatingList, states[2])
	assert.Equal(t, []State{StateRequestingURL, StateDownloading, StateCorrectingRaster}, states[3:6])
	assert.Equal(t, StateCompleted, states[len(states)-1])

	assert.Equal(t, []string{"download_started", "download_finished"}, rec.tracks)
	assert.Contains(t, rec.logs, "Download completed")
	assert.Equal(t, 1, api.requestCount("POST /iam/sign-in/"))
}

func TestRunProgressCarriesIndices(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	rec := &recorder{}

	_, err := newTestOrchestrator(api, afero.NewMemMapFs(), testSettings(), rec).Run(context.Background(), testRequest("L1_AETI_D"))
	require.NoError(t, err)

	var progress []Event
	for _, e := range rec.events {
		if e.Type == EventProgress {
			progress = append(progress, e)
		}
	}
	require.Len(t, progress, 2)
	assert.Equal(t, "L1_AETI_D", progress[1].Dataset)
	assert.Equal(t, 1, progress[1].DatasetIndex)
	assert.Equal(t, 1, progress[1].DatasetTotal)
	assert.Equal(t, 2, progress[1].RasterIndex)
	assert.Equal(t, 2, progress[1].RasterTotal)
	assert.Equal(t, 50, progress[0].Percent())
	assert.Equal(t, 100, progress[1].Percent())
}

func TestRunAverageModeKeepsRates(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	fs := afero.NewMemMapFs()

	summary, err := newTestOrchestrator(api, fs, testSettings(), &recorder{}).Run(context.Background(), testRequest("L1_AETI_D"))
	require.NoError(t, err)

	r := readRaster(t, fs, summary.Written[0])
	assert.InDelta(t, 1.0, r.At(2, 2), 1e-6)
}

func TestRunInvalidRequestMakesNoRequests(t *testing.T) {
	api := newFakeWaPOR(t)
	rec := &recorder{}

	req := testRequest()
	req.APIKey = ""
	req.End = req.Start.AddDate(0, 0, -1)
	summary, err := newTestOrchestrator(api, afero.NewMemMapFs(), testSettings(), rec).Run(context.Background(), req)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, 0, api.requestCount(""))
	assert.Equal(t, []State{StateCheckingInputs, StateFailed}, rec.states())
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())

	req := testRequest("L1_AETI_D")
	req.APIKey = "wrong-key"
	summary, err := newTestOrchestrator(api, afero.NewMemMapFs(), testSettings(), &recorder{}).Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, wapor.IsKind(err, wapor.KindAuth))
	assert.Contains(t, err.Error(), "Invalid API key")
	assert.Equal(t, StateFailed, summary.State)
	assert.Equal(t, 0, api.requestCount("POST /query/"))
	assert.Equal(t, 0, api.requestCount("GET /catalog/"))
}

func TestRunSkipsFailedItems(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	api.failRaster("L1_AETI_2001")
	fs := afero.NewMemMapFs()
	rec := &recorder{}

	summary, err := newTestOrchestrator(api, fs, testSettings(), rec).Run(context.Background(), testRequest("L9_MISSING", "L1_AETI_D"))
	require.NoError(t, err)

	assert.Equal(t, StateCompletedWithSkips, summary.State)
	require.Len(t, summary.Skipped, 2)
	assert.Equal(t, "L9_MISSING", summary.Skipped[0].Dataset)
	assert.Empty(t, summary.Skipped[0].Raster)
	assert.Equal(t, "L1_AETI_2001", summary.Skipped[1].Raster)
	assert.Contains(t, summary.Skipped[1].Reason, "raster unavailable")
	require.Len(t, summary.Written, 1)
	assert.Contains(t, summary.Written[0], "L1_AETI_2002")

	manifest, err := LoadManifest(fs, filepath.Join(sessionDir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, SessionStatusCompletedWithSkips, manifest.Status)
	assert.Len(t, manifest.Skipped, 2)
	assert.Contains(t, rec.tracks, "raster_skipped")
	assert.Contains(t, rec.tracks, "dataset_skipped")
}

func TestRunStopOnRasterError(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	api.failRaster("L1_AETI_2001")
	settings := testSettings()
	settings.StopOnRasterError = true
	fs := afero.NewMemMapFs()

	summary, err := newTestOrchestrator(api, fs, settings, &recorder{}).Run(context.Background(), testRequest("L1_AETI_D"))
	require.Error(t, err)
	assert.True(t, wapor.IsKind(err, wapor.KindJob))
	assert.Equal(t, StateFailed, summary.State)
	assert.Empty(t, summary.Written)

	manifest, err := LoadManifest(fs, filepath.Join(sessionDir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, SessionStatusFailed, manifest.Status)
	assert.NotEmpty(t, manifest.Error)
}

func TestRunWritesLegend(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(lccCube())
	fs := afero.NewMemMapFs()

	summary, err := newTestOrchestrator(api, fs, testSettings(), &recorder{}).Run(context.Background(), testRequest("L1_LCC_A"))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, summary.State)

	legend, err := afero.ReadFile(fs, filepath.Join(sessionDir, "L1_LCC_A", "L1_LCC_A Legend.csv"))
	require.NoError(t, err)
	assert.Equal(t, "code,caption,description\n"+
		"LCC,Land cover class,NA\n"+
		"20,Shrubland,Woody perennial plants\n"+
		"42,\"Cropland, rainfed\",NA\n", string(legend))
}

func TestRunClipsToCutline(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/aoi.geojson", []byte(`{
		"type": "Polygon",
		"coordinates": [[[38.5,8.5],[39.5,8.5],[39.5,9.5],[38.5,9.5],[38.5,8.5]]]
	}`), 0o644))

	req := testRequest("L1_AETI_D")
	req.BBox = nil
	req.CutlinePath = "/aoi.geojson"
	req.Clip = true
	summary, err := newTestOrchestrator(api, fs, testSettings(), &recorder{}).Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, summary.Written, 2)

	r := readRaster(t, fs, summary.Written[0])
	assert.Equal(t, 2, r.Width)
	assert.Equal(t, 2, r.Height)
	assert.Equal(t, 38.0, r.GeoTransform[0])
	assert.Equal(t, 10.0, r.GeoTransform[3])

	// the crop request uses the cutline extent
	var crop struct {
		Params struct {
			Shape struct {
				Coordinates [][][]float64 `json:"coordinates"`
			} `json:"shape"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(api.cropBodies[0], &crop))
	assert.Equal(t, []float64{38.5, 8.5}, crop.Params.Shape.Coordinates[0][0])
	assert.Equal(t, []float64{39.5, 9.5}, crop.Params.Shape.Coordinates[0][2])

	exists, err := afero.Exists(fs, filepath.Join(sessionDir, "L1_AETI_D", "ClipL1_AETI_2001[2020-01-01,2020-01-11).tif"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunMaskedWorkspace(t *testing.T) {
	api := newFakeWaPOR(t)
	for _, code := range []string{"ASI_D", "PHE"} {
		cube := dekadCube()
		cube.code = code
		cube.tags = nil
		api.addCube(cube)
	}
	api.pixel = 252
	settings := config.DefaultSettings()
	settings.Workspace = "ASIS"
	fs := afero.NewMemMapFs()

	summary, err := newTestOrchestrator(api, fs, settings, &recorder{}).Run(context.Background(), testRequest("ASI_D", "PHE"))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, summary.State)
	assert.Equal(t, "/out/ASIS 2024-01-02-03-04-05", summary.SessionDir)
	require.Len(t, summary.Written, 4)

	// the listing is fetched once, without product tags
	assert.Equal(t, 1, api.requestCount("GET /catalog/workspaces/ASIS/cubes?"))

	// flag values above the threshold are not scaled
	r := readRaster(t, fs, summary.Written[0])
	assert.Equal(t, 252.0, r.At(1, 1))

	// PHE is excluded from the mask
	r = readRaster(t, fs, summary.Written[2])
	assert.InDelta(t, 25.2, r.At(1, 1), 1e-4)
}

func TestRunLegendOnlyForLegendWorkspaces(t *testing.T) {
	api := newFakeWaPOR(t)
	cube := lccCube()
	cube.tags = nil
	api.addCube(cube)
	settings := config.DefaultSettings()
	settings.Workspace = "ASIS"
	fs := afero.NewMemMapFs()

	summary, err := newTestOrchestrator(api, fs, settings, &recorder{}).Run(context.Background(), testRequest("L1_LCC_A"))
	require.NoError(t, err)
	require.Len(t, summary.Written, 1)

	exists, err := afero.Exists(fs, filepath.Join(summary.SessionDir, "L1_LCC_A", "L1_LCC_A Legend.csv"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStartCancelStopsBeforeNextRaster(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())
	fs := afero.NewMemMapFs()

	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	o := NewOrchestrator(api.client(testSettings()), fs, testSettings(), logging.NewTestLogger(), func(e Event) {
		if e.State == StateDownloading {
			once.Do(func() {
				close(reached)
				<-release
			})
		}
	}, nil, nil)
	o.SetClock(func() time.Time { return sessionTime })

	h := o.Start(context.Background(), testRequest("L1_AETI_D"))
	<-reached
	h.Cancel()
	close(release)

	summary, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, summary.State)
	assert.Len(t, summary.Written, 1)
	assert.Equal(t, 1, api.requestCount("GET /jobs/"))

	var last Event
	for e := range h.Events() {
		last = e
	}
	assert.Equal(t, StateCanceled, last.State)

	manifest, err := LoadManifest(fs, filepath.Join(sessionDir, "session.json"))
	require.NoError(t, err)
	assert.Equal(t, SessionStatusCancelled, manifest.Status)
}

func TestRunContextCancelAbortsInFlightRaster(t *testing.T) {
	api := newFakeWaPOR(t)
	api.addCube(dekadCube())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := NewOrchestrator(api.client(testSettings()), afero.NewMemMapFs(), testSettings(), nil, func(e Event) {
		if e.State == StateDownloading {
			cancel()
		}
	}, nil, nil)

	summary, err := o.Run(ctx, testRequest("L1_AETI_D"))
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, summary.State)
	assert.Empty(t, summary.Written)
	assert.Empty(t, summary.Skipped)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, isFatal(&wapor.Error{Kind: wapor.KindAuth}))
	assert.False(t, isFatal(&wapor.Error{Kind: wapor.KindJob}))
	assert.True(t, isFatal(&fatalError{err: errors.New("boom")}))
	assert.False(t, isFatal(errors.New("boom")))
}

func TestEventPercentBounds(t *testing.T) {
	assert.Equal(t, 0, Event{}.Percent())
	assert.Equal(t, 75, Event{DatasetIndex: 2, DatasetTotal: 2, RasterIndex: 1, RasterTotal: 2}.Percent())
	assert.False(t, math.IsNaN(float64(Event{DatasetIndex: 1, DatasetTotal: 1}.Percent())))
	assert.True(t, StateCanceled.Terminal())
	assert.False(t, StateDownloading.Terminal())
	assert.Equal(t, "Creating data list", StateCreatingList.String())
}
