package services

import (
	"anclora/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ProgressFunc receives progress percentages reported by the conversion API
type ProgressFunc func(progress int)

// ConversionRequest is one file submitted to the conversion API
type ConversionRequest struct {
	ID           string
	File         *types.SourceFile
	TargetFormat string
	Options      types.ConversionOptions
}

// ConversionAPI is the external service doing the actual conversion work
type ConversionAPI interface {
	Convert(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error)
	Cancel(ctx context.Context, conversionID string) (bool, error)
}

// APIConfig configures the HTTP conversion API client
type APIConfig struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// apiClient talks to the conversion API over HTTP and reads progress over WebSocket
type apiClient struct {
	endpoint *url.URL
	timeout  time.Duration
	client   *http.Client
	dialer   *websocket.Dialer
}

// NewConversionAPI creates a client for the conversion API at cfg.Endpoint
func NewConversionAPI(cfg APIConfig) (ConversionAPI, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("conversion API endpoint is required")
	}
	endpoint, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid conversion API endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("conversion API endpoint must be http or https, got %q", endpoint.Scheme)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &apiClient{
		endpoint: endpoint,
		timeout:  cfg.Timeout,
		client:   client,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Convert uploads the file and blocks until the API answers
func (c *apiClient) Convert(ctx context.Context, req ConversionRequest, onProgress ProgressFunc) (*types.ConversionResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stopProgress := c.streamProgress(ctx, req.ID, onProgress)
	defer stopProgress()

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		writer.CloseWithError(writeConversionForm(form, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL("/api/convert"), body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to build conversion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var result types.ConversionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &types.ConversionError{
			Code:     types.ErrorCodeInvalidResponse,
			Message:  "conversion API returned a malformed response",
			CanRetry: true,
			Err:      err,
		}
	}
	if result.DownloadURL == "" {
		return nil, &types.ConversionError{
			Code:     types.ErrorCodeInvalidResponse,
			Message:  "conversion API response has no download URL",
			CanRetry: true,
		}
	}

	return &result, nil
}

// Cancel asks the API to stop a running conversion
func (c *apiClient) Cancel(ctx context.Context, conversionID string) (bool, error) {
	path := "/api/convert/" + url.PathEscape(conversionID) + "/cancel"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL(path), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build cancel request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return false, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, decodeAPIError(resp)
	}

	var payload struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("malformed cancel response: %w", err)
	}
	return payload.Cancelled, nil
}

// streamProgress subscribes to the progress channel of a conversion. The
// returned func closes the stream and waits for the reader to exit, so no
// progress is delivered once it returns.
func (c *apiClient) streamProgress(ctx context.Context, conversionID string, onProgress ProgressFunc) func() {
	if onProgress == nil {
		return func() {}
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL("/api/ws/conversions/"+url.PathEscape(conversionID)), nil)
	if err != nil {
		log.Printf("Progress stream unavailable for conversion %s: %v", conversionID, err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg struct {
				Progress *float64 `json:"progress"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Progress != nil {
				onProgress(int(*msg.Progress))
			}
		}
	}()

	return func() {
		conn.Close()
		<-done
	}
}

func (c *apiClient) httpURL(path string) string {
	u := *c.endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func (c *apiClient) wsURL(path string) string {
	u := *c.endpoint
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func writeConversionForm(form *multipart.Writer, req ConversionRequest) error {
	if err := form.WriteField("id", req.ID); err != nil {
		return err
	}
	if err := form.WriteField("targetFormat", req.TargetFormat); err != nil {
		return err
	}
	if len(req.Options) > 0 {
		options, err := json.Marshal(req.Options)
		if err != nil {
			return fmt.Errorf("failed to encode options: %w", err)
		}
		if err := form.WriteField("options", string(options)); err != nil {
			return err
		}
	}

	part, err := form.CreateFormFile("file", req.File.Name)
	if err != nil {
		return err
	}
	payload, err := os.Open(req.File.Path)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer payload.Close()

	if _, err := io.Copy(part, payload); err != nil {
		return fmt.Errorf("failed to upload source file: %w", err)
	}
	return form.Close()
}

// transportError normalizes a failed round trip
func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &types.ConversionError{
			Code:     types.ErrorCodeTimeout,
			Message:  "conversion API did not answer in time",
			CanRetry: true,
			Err:      err,
		}
	case errors.Is(ctx.Err(), context.Canceled):
		return &types.ConversionError{
			Code:     types.ErrorCodeCancelled,
			Message:  "conversion was cancelled",
			CanRetry: true,
			Err:      err,
		}
	default:
		return &types.ConversionError{
			Code:     types.ErrorCodeNetwork,
			Message:  fmt.Sprintf("could not reach conversion API: %v", err),
			CanRetry: true,
			Err:      err,
		}
	}
}

// decodeAPIError keeps the server's code and message when it sends them
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Error    string `json:"error"`
		Message  string `json:"message"`
		Code     string `json:"code"`
		CanRetry *bool  `json:"canRetry"`
	}
	_ = json.Unmarshal(raw, &payload)

	message := payload.Error
	if message == "" {
		message = payload.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	code := payload.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}

	canRetry := resp.StatusCode >= 500 ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout
	if payload.CanRetry != nil {
		canRetry = *payload.CanRetry
	}

	return &types.ConversionError{
		Code:     code,
		Message:  message,
		CanRetry: canRetry,
	}
}
