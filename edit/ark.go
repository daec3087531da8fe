package edit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ark images API defaults.
const (
	DefaultEndpoint = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultModel    = "doubao-seedream-4-5-251128"
	DefaultTimeout  = 120 * time.Second

	// retryExpandRatio widens the region on the last retry level.
	retryExpandRatio = 0.1
	outputSize       = "1920x1920"
	maxResponseBytes = 64 << 20
)

var prompts = [MaxRetryLevel + 1]string{
	"Generate an image identical to the reference, but remove the watermark, text or overlay in the region at %s. Everything else must remain pixel-perfect identical.",
	"Edit the reference image: remove the watermark in the %s region. Fill the area with the surrounding texture, keep all other areas identical and make the boundary seamless.",
	"Image inpainting task: remove the watermark at %s from the reference. Copy the original exactly and only repair the watermark region, matching the surrounding pixels.",
}

// Prompt returns the instruction sent for a bbox and retry level.
func Prompt(b BBox, retryLevel int) string {
	if retryLevel < 0 || retryLevel > MaxRetryLevel {
		retryLevel = 0
	}
	return fmt.Sprintf(prompts[retryLevel], b.Describe())
}

// ArkEditor calls an Ark images/generations endpoint with the source image as
// reference. Without an API key it echoes the input image.
type ArkEditor struct {
	client   *http.Client
	endpoint string
	model    string
	apiKey   string
	logger   *slog.Logger
}

// ArkOption configures an ArkEditor.
type ArkOption func(*ArkEditor)

// WithAPIKey sets the bearer key.
func WithAPIKey(key string) ArkOption {
	return func(a *ArkEditor) { a.apiKey = key }
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) ArkOption {
	return func(a *ArkEditor) { a.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithModel sets the model name.
func WithModel(model string) ArkOption {
	return func(a *ArkEditor) { a.model = model }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ArkOption {
	return func(a *ArkEditor) { a.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ArkOption {
	return func(a *ArkEditor) {
		c := *a.client
		c.Timeout = d
		a.client = &c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ArkOption {
	return func(a *ArkEditor) { a.logger = l }
}

// NewArk creates an ArkEditor.
func NewArk(opts ...ArkOption) *ArkEditor {
	a := &ArkEditor{
		client:   &http.Client{Timeout: DefaultTimeout},
		endpoint: DefaultEndpoint,
		model:    DefaultModel,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ Editor = (*ArkEditor)(nil)

// Mock reports whether the editor runs without an API key.
func (a *ArkEditor) Mock() bool { return a.apiKey == "" }

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Image          string `json:"image"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
	Watermark      bool   `json:"watermark"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Edit implements Editor.
func (a *ArkEditor) Edit(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	bbox := req.BBox
	if req.RetryLevel == MaxRetryLevel {
		bbox = bbox.Expand(retryExpandRatio)
	}

	if a.Mock() {
		a.logger.Warn("ark api key not configured, echoing input image")
		return &Result{ImageBase64: req.ImageBase64, RetryLevel: req.RetryLevel}, nil
	}

	body, err := json.Marshal(generationRequest{
		Model:          a.model,
		Prompt:         Prompt(bbox, req.RetryLevel),
		Image:          "data:image/jpeg;base64," + payload(req.ImageBase64),
		Size:           outputSize,
		N:              1,
		ResponseFormat: "b64_json",
		Watermark:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("edit: encode request: %w", err)
	}

	start := time.Now()
	var out generationResponse
	if err := a.do(ctx, http.MethodPost, a.endpoint+"/images/generations", body, &out); err != nil {
		return nil, err
	}
	a.logger.Debug("ark generation finished",
		"retry_level", req.RetryLevel,
		"elapsed", time.Since(start),
	)

	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: no image returned", ErrFailed)
	}
	item := out.Data[0]
	switch {
	case item.B64JSON != "":
		return &Result{ImageBase64: "data:image/png;base64," + item.B64JSON, RetryLevel: req.RetryLevel}, nil
	case item.URL != "":
		raw, err := a.fetch(ctx, item.URL)
		if err != nil {
			return nil, err
		}
		return &Result{
			ImageBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
			RetryLevel:  req.RetryLevel,
		}, nil
	default:
		return nil, fmt.Errorf("%w: no image returned", ErrFailed)
	}
}

func (a *ArkEditor) do(ctx context.Context, method, url string, body []byte, out *generationResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("edit: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailed, err)
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return fmt.Errorf("%w: ark http %d: %s", ErrFailed, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode response: %w", ErrFailed, decodeErr)
	}
	return nil
}

func (a *ArkEditor) fetch(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("edit: build request: %w", err)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch image: %w", ErrFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetch image: http %d", ErrFailed, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch image: %w", ErrFailed, err)
	}
	return raw, nil
}
