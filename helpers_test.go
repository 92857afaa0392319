package main

import (
	"anclora/cmd"
	"anclora/config"
	"anclora/services"
	"anclora/types"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// scriptedAPI is an in-memory conversion API whose behaviour is chosen per file name
type scriptedAPI struct {
	mu       sync.Mutex
	failures map[string]int
	held     map[string]chan struct{}
	refuse   bool
}

func newScriptedAPI() *scriptedAPI {
	return &scriptedAPI{
		failures: make(map[string]int),
		held:     make(map[string]chan struct{}),
	}
}

// failTimes makes the next n conversions of name fail with a retryable error
func (a *scriptedAPI) failTimes(name string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[name] = n
}

// hold keeps conversions of name processing until the returned func is called
func (a *scriptedAPI) hold(name string) func() {
	release := make(chan struct{})
	a.mu.Lock()
	a.held[name] = release
	a.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func (a *scriptedAPI) Convert(ctx context.Context, req services.ConversionRequest, onProgress services.ProgressFunc) (*types.ConversionResult, error) {
	onProgress(50)

	a.mu.Lock()
	release := a.held[req.File.Name]
	a.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	fail := a.failures[req.File.Name] > 0
	if fail {
		a.failures[req.File.Name]--
	}
	a.mu.Unlock()
	if fail {
		return nil, &types.ConversionError{Code: types.ErrorCodeConversion, Message: "converter crashed", CanRetry: true}
	}

	onProgress(90)
	return &types.ConversionResult{
		DownloadURL:    fmt.Sprintf("/downloads/%s.%s", req.ID, req.TargetFormat),
		ProcessingTime: 0.2,
	}, nil
}

func (a *scriptedAPI) Cancel(ctx context.Context, conversionID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.refuse, nil
}

// TestHelper runs the full application against a scripted conversion API
type TestHelper struct {
	Server *httptest.Server
	App    *cmd.App
	API    *scriptedAPI
	Config *config.Config
}

// NewTestHelper creates a new test helper with a temporary upload directory
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Conversion.UploadDir = filepath.Join(dir, "uploads")
	cfg.Conversion.MaxConcurrent = 2
	cfg.SettingsPath = filepath.Join(dir, "settings.json")
	cfg.Notifications.DefaultDurationMs = 60000
	cfg.Notifications.SuccessDurationMs = 60000
	cfg.Notifications.ErrorDurationMs = 60000

	ctx, cancel := context.WithCancel(context.Background())
	api := newScriptedAPI()
	app := cmd.NewApp(ctx, cfg, api, nil)
	server := httptest.NewServer(app.Router)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &TestHelper{Server: server, App: app, API: api, Config: cfg}
}

type upload struct {
	name    string
	content string
}

// Upload posts files as one multipart request
func (h *TestHelper) Upload(t *testing.T, targetFormat string, options string, files ...upload) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = io.WriteString(part, f.content)
		require.NoError(t, err)
	}
	if targetFormat != "" {
		require.NoError(t, writer.WriteField("targetFormat", targetFormat))
	}
	if options != "" {
		require.NoError(t, writer.WriteField("options", options))
	}
	require.NoError(t, writer.Close())

	resp, err := http.Post(h.Server.URL+"/api/conversions", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

// UploadOne uploads a single file and returns its tracked status
func (h *TestHelper) UploadOne(t *testing.T, name, content, targetFormat string) types.FileConversionStatus {
	t.Helper()
	resp, body := h.Upload(t, targetFormat, "", upload{name, content})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body["error"]))

	var file types.FileConversionStatus
	require.NoError(t, json.Unmarshal(body["file"], &file))
	return file
}

// GetJSON performs a GET request and decodes the JSON response
func (h *TestHelper) GetJSON(t *testing.T, path string, target interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(h.Server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp
}

// Do performs a request with an optional JSON body and decodes the response
func (h *TestHelper) Do(t *testing.T, method, path string, payload interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.Server.URL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

// WaitForStatus polls a conversion until it reaches status
func (h *TestHelper) WaitForStatus(t *testing.T, id string, status types.FileStatus) types.FileConversionStatus {
	t.Helper()
	var file types.FileConversionStatus
	require.Eventually(t, func() bool {
		var ok bool
		file, ok = h.App.Tracker.GetFile(id)
		return ok && file.Status == status
	}, 5*time.Second, 10*time.Millisecond, "conversion %s never reached %s", id, status)
	return file
}

// ConnectWebSocket dials a WebSocket path on the test server
func (h *TestHelper) ConnectWebSocket(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.Server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ReadEvent reads the next event from a WebSocket connection
func ReadEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event types.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func decodeBody(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()

	body := make(map[string]json.RawMessage)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &body), string(data))
	}
	return body
}
