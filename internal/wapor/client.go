// Package wapor is a client for the FAO WaPOR GISMGR v1 API: sign-in,
// catalog browsing, availability queries and crop raster jobs.
package wapor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wapor-downloader/internal/common"
	"wapor-downloader/internal/config"
	"wapor-downloader/internal/logging"
)

const (
	// UserAgent identifies the downloader to the API
	UserAgent = "wapor-downloader/1.0"

	// DefaultPollInterval is the pause between job status requests
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxPollAttempts bounds a job wait to 15 minutes at the default interval
	DefaultMaxPollAttempts = 450

	apiTimeout      = 30 * time.Second
	downloadTimeout = 10 * time.Minute
)

// ClientConfig configures a Client. Zero values fall back to defaults.
type ClientConfig struct {
	BaseURL         string
	Workspace       string
	PollInterval    time.Duration
	MaxPollAttempts int

	// DedupeExempt disables duplicate cell removal for a dataset
	DedupeExempt func(workspace, cube string) bool

	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client handles communication with the WaPOR API
type Client struct {
	baseURL         string
	workspace       string
	pollInterval    time.Duration
	maxPollAttempts int
	dedupeExempt    func(workspace, cube string) bool

	httpClient     *http.Client
	downloadClient *http.Client
	logger         *logging.Logger
}

// NewClient creates a WaPOR client with system proxy support
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		workspace:       cfg.Workspace,
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		dedupeExempt:    cfg.DedupeExempt,
		httpClient:      cfg.HTTPClient,
		logger:          cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = common.DefaultBaseURL
	}
	if c.workspace == "" {
		c.workspace = common.WorkspaceWaPOR2
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPollAttempts <= 0 {
		c.maxPollAttempts = DefaultMaxPollAttempts
	}
	if c.dedupeExempt == nil {
		c.dedupeExempt = config.DefaultSettings().DedupeExempt
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}

	// Use http.ProxyFromEnvironment to respect system proxy settings
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   apiTimeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
		c.downloadClient = &http.Client{
			Timeout:   downloadTimeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	} else {
		c.downloadClient = c.httpClient
	}
	return c
}

// Workspace returns the workspace the client queries
func (c *Client) Workspace() string {
	return c.workspace
}

// BaseURL returns the base URL of the API
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the wrapper every GISMGR response comes in
type envelope struct {
	Status   int             `json:"status"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

// resolve turns an API path into a URL; absolute URLs (job links) pass through
func (c *Client) resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.baseURL + ref
}

// request sends a JSON request and unwraps the response envelope into result.
func (c *Client) request(ctx context.Context, method, ref string, header http.Header, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(ref), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	c.logger.Debug("api request", "method", method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if decodeErr == nil {
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if env.Status != 0 && env.Status != http.StatusOK {
		return &APIError{StatusCode: env.Status, Body: string(respBody), Message: env.Message}
	}

	if result != nil {
		if len(env.Response) == 0 || string(env.Response) == "null" {
			return fmt.Errorf("response envelope has no payload")
		}
		if err := json.Unmarshal(env.Response, result); err != nil {
			return fmt.Errorf("failed to decode response payload: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, ref string, result any) error {
	return c.request(ctx, http.MethodGet, ref, nil, nil, result)
}

func (c *Client) post(ctx context.Context, ref string, header http.Header, body, result any) error {
	return c.request(ctx, http.MethodPost, ref, header, body, result)
}

// Download fetches a finished job's output file
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, newError(KindDownload, "download", "", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	start := time.Now()
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, newError(KindDownload, "download", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newError(KindDownload, "download", "", &APIError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindDownload, "download", "failed to read raster", err)
	}

	c.logger.Info("downloaded raster", "size", humanize.Bytes(uint64(len(data))), "took", time.Since(start).Round(time.Millisecond))
	return data, nil
}
