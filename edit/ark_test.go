package edit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erasekit/paywall/edit"
)

func arkStub(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

var sampleRequest = edit.Request{
	ImageBase64: "data:image/jpeg;base64,aGVsbG8=",
	BBox:        edit.BBox{X0: 0.1, Y0: 0.2, X1: 0.4, Y1: 0.3},
}

func TestArkMockEchoesInput(t *testing.T) {
	ed := edit.NewArk()
	require.True(t, ed.Mock())

	res, err := ed.Edit(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, sampleRequest.ImageBase64, res.ImageBase64)
}

func TestArkGeneration(t *testing.T) {
	var got map[string]any
	srv, calls := arkStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": "cmVzdWx0"}},
		})
	})

	ed := edit.NewArk(edit.WithAPIKey("k"), edit.WithEndpoint(srv.URL+"/"), edit.WithModel("m1"))
	res, err := ed.Edit(context.Background(), sampleRequest)
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "data:image/png;base64,cmVzdWx0", res.ImageBase64)
	assert.Equal(t, "m1", got["model"])
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", got["image"])
	assert.Equal(t, "b64_json", got["response_format"])
	assert.Equal(t, false, got["watermark"])
	assert.Contains(t, got["prompt"], "left 10% top 20% right 40% bottom 30%")
}

func TestArkRetryLevelTwoExpands(t *testing.T) {
	var prompt string
	srv, _ := arkStub(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		prompt, _ = body["prompt"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"b64_json": "eA=="}}})
	})

	req := sampleRequest
	req.BBox = edit.BBox{X0: 0.2, Y0: 0.2, X1: 0.4, Y1: 0.6}
	req.RetryLevel = 2

	res, err := edit.NewArk(edit.WithAPIKey("k"), edit.WithEndpoint(srv.URL)).Edit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RetryLevel)
	assert.Contains(t, prompt, "left 19% top 18% right 41% bottom 62%")
}

func TestArkURLResponse(t *testing.T) {
	var base string
	srv, calls := arkStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/img.png" {
			_, _ = w.Write([]byte("png-bytes"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": base + "/img.png"}}})
	})
	base = srv.URL

	res, err := edit.NewArk(edit.WithAPIKey("k"), edit.WithEndpoint(srv.URL)).Edit(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "data:image/png;base64,cG5nLWJ5dGVz", res.ImageBase64)
}

func TestArkFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "api error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "image too small"}})
			},
			want: "image too small",
		},
		{
			name: "empty data",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			},
			want: "no image returned",
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			want: "decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := arkStub(t, tt.handler)
			_, err := edit.NewArk(edit.WithAPIKey("k"), edit.WithEndpoint(srv.URL)).Edit(context.Background(), sampleRequest)
			require.Error(t, err)
			assert.ErrorIs(t, err, edit.ErrFailed)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestArkRejectsInvalidRequestWithoutCalling(t *testing.T) {
	srv, calls := arkStub(t, func(http.ResponseWriter, *http.Request) {})

	req := sampleRequest
	req.BBox = edit.BBox{X0: 0.5, Y0: 0, X1: 0.4, Y1: 1}
	_, err := edit.NewArk(edit.WithAPIKey("k"), edit.WithEndpoint(srv.URL)).Edit(context.Background(), req)
	assert.ErrorIs(t, err, edit.ErrInvalidRequest)
	assert.Zero(t, calls.Load())
}
