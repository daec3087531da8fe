package edit_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erasekit/paywall/edit"
)

func TestBBoxValidate(t *testing.T) {
	tests := []struct {
		name string
		box  edit.BBox
		ok   bool
	}{
		{"full image", edit.BBox{X0: 0, Y0: 0, X1: 1, Y1: 1}, true},
		{"inner region", edit.BBox{X0: 0.1, Y0: 0.2, X1: 0.4, Y1: 0.3}, true},
		{"negative", edit.BBox{X0: -0.1, Y0: 0, X1: 0.5, Y1: 0.5}, false},
		{"beyond one", edit.BBox{X0: 0, Y0: 0, X1: 1.2, Y1: 0.5}, false},
		{"zero width", edit.BBox{X0: 0.3, Y0: 0, X1: 0.3, Y1: 0.5}, false},
		{"inverted height", edit.BBox{X0: 0, Y0: 0.6, X1: 0.5, Y1: 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, edit.ErrInvalidRequest)
			}
		})
	}
}

func TestBBoxExpand(t *testing.T) {
	got := edit.BBox{X0: 0.2, Y0: 0.2, X1: 0.4, Y1: 0.6}.Expand(0.1)
	assert.InDelta(t, 0.19, got.X0, 1e-9)
	assert.InDelta(t, 0.18, got.Y0, 1e-9)
	assert.InDelta(t, 0.41, got.X1, 1e-9)
	assert.InDelta(t, 0.62, got.Y1, 1e-9)

	clamped := edit.BBox{X0: 0, Y0: 0, X1: 1, Y1: 1}.Expand(0.5)
	assert.Equal(t, edit.BBox{X0: 0, Y0: 0, X1: 1, Y1: 1}, clamped)
}

func TestBBoxDescribe(t *testing.T) {
	assert.Equal(t, "left 10% top 20% right 40% bottom 30%",
		edit.BBox{X0: 0.1, Y0: 0.2, X1: 0.4, Y1: 0.3}.Describe())
}

func TestRequestValidate(t *testing.T) {
	box := edit.BBox{X0: 0.1, Y0: 0.1, X1: 0.2, Y1: 0.2}

	assert.NoError(t, edit.Request{ImageBase64: "aGk=", BBox: box, RetryLevel: 2}.Validate())
	assert.ErrorIs(t, edit.Request{BBox: box}.Validate(), edit.ErrInvalidRequest)
	assert.ErrorIs(t, edit.Request{ImageBase64: "aGk=", BBox: box, RetryLevel: 3}.Validate(), edit.ErrInvalidRequest)
	assert.ErrorIs(t, edit.Request{ImageBase64: "aGk=", BBox: box, RetryLevel: -1}.Validate(), edit.ErrInvalidRequest)
}

func TestImageBytes(t *testing.T) {
	raw := []byte("not really a jpeg")
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := edit.ImageBytes(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = edit.ImageBytes("data:image/jpeg;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = edit.ImageBytes("%%%")
	assert.ErrorIs(t, err, edit.ErrInvalidRequest)
}
