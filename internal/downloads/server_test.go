package downloads

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wapor-downloader/internal/config"
	"wapor-downloader/internal/logging"
	"wapor-downloader/internal/wapor"
	"wapor-downloader/pkg/geotiff"
)

const testAPIKey = "good-key"

// fakeCube is one dataset served by fakeWaPOR
type fakeCube struct {
	code       string
	caption    string
	tags       []string
	measure    map[string]any
	dimensions []map[string]any
	members    map[string][]map[string]any
	items      [][]any
}

// fakeWaPOR serves catalog, query, job and file endpoints of one workspace
type fakeWaPOR struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	requests    []string
	cubes       map[string]*fakeCube
	jobs        map[string]string
	failRasters map[string]bool
	cropBodies  []json.RawMessage
	pixel       float64
}

func newFakeWaPOR(t *testing.T) *fakeWaPOR {
	f := &fakeWaPOR{
		t:           t,
		cubes:       make(map[string]*fakeCube),
		jobs:        make(map[string]string),
		failRasters: make(map[string]bool),
		pixel:       10,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeWaPOR) addCube(c *fakeCube) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cubes[c.code] = c
}

func (f *fakeWaPOR) failRaster(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRasters[id] = true
}

func (f *fakeWaPOR) requestCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeWaPOR) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	f.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")

	switch {
	case r.Method == http.MethodPost && path == "iam/sign-in":
		if r.Header.Get("X-GISMGR-API-KEY") != testAPIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Invalid API key"})
			return
		}
		writeEnvelope(w, map[string]any{"accessToken": "token", "expiresIn": 3600, "refreshToken": "refresh"})

	case r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "catalog" && parts[3] == "cubes":
		tag := r.URL.Query().Get("tags")
		f.mu.Lock()
		listing := []map[string]any{}
		for _, c := range f.cubes {
			if tag != "" && !hasTag(c.tags, tag) {
				continue
			}
			listing = append(listing, map[string]any{"code": c.code, "caption": c.caption, "workspaceCode": parts[2]})
		}
		f.mu.Unlock()
		writeEnvelope(w, listing)

	case r.Method == http.MethodGet && len(parts) >= 6 && parts[0] == "catalog":
		f.mu.Lock()
		cube, ok := f.cubes[parts[4]]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "Cube not found"})
			return
		}
		switch {
		case len(parts) == 6 && parts[5] == "measures":
			writeEnvelope(w, []any{cube.measure})
		case len(parts) == 6 && parts[5] == "dimensions":
			writeEnvelope(w, cube.dimensions)
		case len(parts) == 8 && parts[7] == "members":
			writeEnvelope(w, cube.members[parts[6]])
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "no route"})
		}

	case r.Method == http.MethodPost && path == "query":
		f.serveQuery(w, r, body)

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "jobs":
		f.mu.Lock()
		rasterID, ok := f.jobs[parts[1]]
		failed := f.failRasters[rasterID]
		f.mu.Unlock()
		switch {
		case !ok:
			writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "Job not found"})
		case failed:
			writeEnvelope(w, map[string]any{"type": "CROP RASTER", "status": "COMPLETED WITH ERRORS", "log": []string{"raster unavailable"}})
		default:
			writeEnvelope(w, map[string]any{
				"type":   "CROP RASTER",
				"status": "COMPLETED",
				"output": map[string]any{"downloadUrl": f.server.URL + "/files/" + rasterID + ".tif"},
			})
		}

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "files":
		w.Header().Set("Content-Type", "image/tiff")
		_, _ = w.Write(f.rasterBytes())

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "no route " + r.URL.Path})
	}
}

func (f *fakeWaPOR) serveQuery(w http.ResponseWriter, r *http.Request, body []byte) {
	var q struct {
		Type   string `json:"type"`
		Params struct {
			Cube struct {
				Code string `json:"code"`
			} `json:"cube"`
			Properties struct {
				OutputFileName string `json:"outputFileName"`
			} `json:"properties"`
		} `json:"params"`
	}
	if err := json.Unmarshal(body, &q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": err.Error()})
		return
	}

	switch q.Type {
	case "MDAQuery_Table":
		f.mu.Lock()
		cube, ok := f.cubes[q.Params.Cube.Code]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"status": 400, "message": "Unknown cube"})
			return
		}
		writeEnvelope(w, map[string]any{"items": cube.items})

	case "CropRaster":
		if r.Header.Get("Authorization") != "Bearer token" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Unauthorized"})
			return
		}
		f.mu.Lock()
		f.cropBodies = append(f.cropBodies, json.RawMessage(body))
		id := strconv.Itoa(len(f.jobs) + 1)
		f.jobs[id] = strings.TrimSuffix(q.Params.Properties.OutputFileName, ".tif")
		f.mu.Unlock()
		writeEnvelope(w, map[string]any{
			"links": []map[string]any{{"rel": "self", "href": f.server.URL + "/jobs/" + id}},
		})

	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": 400, "message": "Unknown query type"})
	}
}

// rasterBytes is a 4x4 WGS84 raster over lon 38..42, lat 8..12 with the
// top-left pixel set to no-data
func (f *fakeWaPOR) rasterBytes() []byte {
	r := geotiff.New(4, 4)
	for i := range r.Data {
		r.Data[i] = f.pixel
	}
	r.NoData = -9999
	r.HasNoData = true
	r.Data[0] = -9999
	r.GeoTransform = [6]float64{38, 1, 0, 12, 0, -1}
	r.Georeferenced = true
	r.GeoKeys = geotiff.GeoKeys{Directory: []uint16{1, 1, 0, 1, 2048, 0, 1, 4326}}

	var buf bytes.Buffer
	require.NoError(f.t, geotiff.Encode(&buf, r, nil))
	return buf.Bytes()
}

func (f *fakeWaPOR) client(settings *config.UserSettings) *wapor.Client {
	return wapor.NewClient(wapor.ClientConfig{
		BaseURL:         f.server.URL,
		Workspace:       settings.Workspace,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
		DedupeExempt:    settings.DedupeExempt,
		Logger:          logging.NewTestLogger(),
	})
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, response any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": 200, "message": "OK", "response": response})
}

func headerCell(value string) map[string]any {
	return map[string]any{"type": "ROW_HEADER", "value": value}
}

func dataCell(rasterID string) map[string]any {
	return map[string]any{
		"type":  "DATA_CELL",
		"value": 1,
		"metadata": map[string]any{
			"raster": map[string]any{"id": rasterID, "bbox": []float64{38, 8, 42, 12}},
		},
	}
}

// dekadCube has two dekads of January 2020 in its listing
func dekadCube() *fakeCube {
	return &fakeCube{
		code:    "L1_AETI_D",
		caption: "Actual EvapoTranspiration and Interception (Dekadal)",
		tags:    []string{"L1"},
		measure: map[string]any{"code": "WATER_MM", "caption": "Amount of Water", "multiplier": 0.1},
		dimensions: []map[string]any{
			{"code": "DEKAD", "caption": "Dekad", "type": "TIME"},
		},
		members: map[string][]map[string]any{
			"DEKAD": {
				{"code": "[2020-01-01,2020-01-11)", "caption": "2020-01 D1"},
				{"code": "[2020-01-11,2020-01-21)", "caption": "2020-01 D2"},
			},
		},
		items: [][]any{
			{headerCell("2020-01 D1"), dataCell("L1_AETI_2001")},
			{headerCell("2020-01 D2"), dataCell("L1_AETI_2002")},
		},
	}
}

// lccCube is a yearly land cover classification
func lccCube() *fakeCube {
	return &fakeCube{
		code:    "L1_LCC_A",
		caption: "Land Cover Classification (Annual)",
		tags:    []string{"L1"},
		measure: map[string]any{
			"code": "LCC", "caption": "Land cover class", "multiplier": 1,
			"classes": []map[string]any{
				{"code": "42", "caption": "Cropland, rainfed", "description": ""},
				{"code": "20", "caption": "Shrubland", "description": "Woody perennial plants"},
			},
		},
		dimensions: []map[string]any{
			{"code": "YEAR", "caption": "Year", "type": "TIME"},
		},
		members: map[string][]map[string]any{
			"YEAR": {{"code": "[2020-01-01,2021-01-01)", "caption": "2020"}},
		},
		items: [][]any{
			{headerCell("2020"), dataCell("L1_LCC_20")},
		},
	}
}
