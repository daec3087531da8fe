// Package edit defines the watermark-removal collaborator the API calls
// between authorizing and committing a paid use.
package edit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxRetryLevel is the most aggressive retry level a client may request.
const MaxRetryLevel = 2

var (
	// ErrInvalidRequest marks requests rejected before any work was done.
	ErrInvalidRequest = errors.New("edit: invalid request")

	// ErrFailed marks failures of the editing backend.
	ErrFailed = errors.New("edit: editor failed")
)

// BBox is a rectangle in normalized image coordinates, origin top-left.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Validate reports whether b lies inside [0,1] and has positive area.
func (b BBox) Validate() error {
	for _, v := range []float64{b.X0, b.Y0, b.X1, b.Y1} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: bbox coordinates must be within [0,1]", ErrInvalidRequest)
		}
	}
	if b.X0 >= b.X1 || b.Y0 >= b.Y1 {
		return fmt.Errorf("%w: bbox must satisfy x0 < x1 and y0 < y1", ErrInvalidRequest)
	}
	return nil
}

// Expand grows b around its center by ratio of its width and height,
// clamped to the unit square.
func (b BBox) Expand(ratio float64) BBox {
	dx := (b.X1 - b.X0) * ratio / 2
	dy := (b.Y1 - b.Y0) * ratio / 2
	return BBox{
		X0: max(0, b.X0-dx),
		Y0: max(0, b.Y0-dy),
		X1: min(1, b.X1+dx),
		Y1: min(1, b.Y1+dy),
	}
}

// Describe renders b as edge percentages, e.g. "left 10% top 20% right 40% bottom 30%".
func (b BBox) Describe() string {
	return fmt.Sprintf("left %.0f%% top %.0f%% right %.0f%% bottom %.0f%%",
		b.X0*100, b.Y0*100, b.X1*100, b.Y1*100)
}

// Request asks for the region inside BBox to be cleaned.
type Request struct {
	// ImageBase64 is raw base64 or a data URL.
	ImageBase64 string
	BBox        BBox
	RetryLevel  int
}

// Validate checks the bbox and retry level. The image itself is checked by ImageBytes.
func (r Request) Validate() error {
	if r.ImageBase64 == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}
	if r.RetryLevel < 0 || r.RetryLevel > MaxRetryLevel {
		return fmt.Errorf("%w: retry level must be between 0 and %d", ErrInvalidRequest, MaxRetryLevel)
	}
	return r.BBox.Validate()
}

// Result is the edited image.
type Result struct {
	ImageBase64 string
	RetryLevel  int
}

// Editor removes a watermark from an image.
type Editor interface {
	Edit(ctx context.Context, req Request) (*Result, error)
}

// EditorFunc is an adapter to use a plain function as an Editor.
type EditorFunc func(ctx context.Context, req Request) (*Result, error)

// Edit implements Editor.
func (f EditorFunc) Edit(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// ImageBytes decodes an image given as raw base64 or a data URL.
func ImageBytes(image string) ([]byte, error) {
	data := payload(image)
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64", ErrInvalidRequest)
	}
	return raw, nil
}

// payload strips a "data:<mime>;base64," header if present.
func payload(image string) string {
	if _, data, ok := strings.Cut(image, ","); ok {
		return data
	}
	return image
}
