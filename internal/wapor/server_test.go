package wapor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"wapor-downloader/internal/logging"
)

// fakeAPI is an in-memory WaPOR server. Handlers can be swapped per test.
type fakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	requests  []string
	bodies    map[string][]json.RawMessage
	signIns   int
	jobPolls  int
	routes    map[string]http.HandlerFunc
	lastAuths []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{t: t, bodies: make(map[string][]json.RawMessage), routes: make(map[string]http.HandlerFunc)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)

	f.routes["POST /iam/sign-in/"] = func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.signIns++
		n := f.signIns
		f.mu.Unlock()
		if r.Header.Get("X-GISMGR-API-KEY") != "good-key" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Invalid API key"})
			return
		}
		writeEnvelope(w, map[string]any{"accessToken": "token-" + strconv.Itoa(n), "expiresIn": 3600, "refreshToken": "refresh"})
	}
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.requests = append(f.requests, key+"?"+r.URL.RawQuery)
	if len(body) > 0 {
		f.bodies[key] = append(f.bodies[key], json.RawMessage(body))
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		f.lastAuths = append(f.lastAuths, auth)
	}
	handler, ok := f.routes[key]
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "no route " + key})
		return
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	handler(w, r)
}

func (f *fakeAPI) handle(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = h
}

func (f *fakeAPI) requestCount(prefix string) int {
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

func (f *fakeAPI) client() *Client {
	return f.clientFor("WAPOR_2")
}

func (f *fakeAPI) clientFor(workspace string) *Client {
	return NewClient(ClientConfig{
		BaseURL:         f.server.URL,
		Workspace:       workspace,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
		Logger:          logging.NewTestLogger(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, response any) {
	writeJSON(w, http.StatusOK, map[string]any{"status": 200, "message": "OK", "response": response})
}

// dekadCube is a resolved L1 dekadal cube with three dekads of January 2020
func dekadCube() *Cube {
	return &Cube{
		Code:      "L1_AETI_D",
		Caption:   "Actual EvapoTranspiration and Interception (Dekadal)",
		Workspace: "WAPOR_2",
		Measure:   &Measure{Code: "WATER_MM", Caption: "Amount of Water", Multiplier: 0.1},
		Dimensions: []Dimension{{
			Code: "DEKAD", Type: "TIME",
			Members: []Member{
				{Code: "[2020-01-01,2020-01-11)", Caption: "2020-01 D1"},
				{Code: "[2020-01-11,2020-01-21)", Caption: "2020-01 D2"},
				{Code: "[2020-01-21,2020-02-01)", Caption: "2020-01 D3"},
			},
		}},
	}
}

// seasonalCube is a phenology cube varying by season, stage and year
func seasonalCube() *Cube {
	return &Cube{
		Code:      "L2_PHE_S",
		Workspace: "WAPOR_2",
		Measure:   &Measure{Code: "PHE", Multiplier: 1},
		AdditionalInfo: map[string]any{
			"temporalExtent": "Seasonal",
		},
		Dimensions: []Dimension{
			{Code: "SEASON", Type: "WHAT", Members: []Member{{Code: "S1", Caption: "Season 1"}}},
			{Code: "STAGE", Type: "WHAT", Members: []Member{{Code: "SOS", Caption: "Start", Description: "Start of season"}}},
			{Code: "YEAR", Type: "TIME", Members: []Member{{Code: "[2020-01-01,2021-01-01)", Caption: "2020"}}},
		},
	}
}

func header(value string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"type": "ROW_HEADER", "value": value})
	return b
}

func dataCell(rasterID string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"type":  "DATA_CELL",
		"value": 1,
		"metadata": map[string]any{
			"raster": map[string]any{"id": rasterID, "bbox": []float64{-30.0, -40.0, 65.0, 40.0}},
		},
	})
	return b
}
