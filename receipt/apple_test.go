package receipt_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erasekit/paywall/receipt"
)

// appleStub serves canned verifyReceipt responses and counts calls.
type appleStub struct {
	server *httptest.Server
	calls  atomic.Int32
	last   atomic.Value // map[string]any
}

func newAppleStub(t *testing.T, handler func(body map[string]any) (int, any)) *appleStub {
	t.Helper()
	s := &appleStub{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.last.Store(body)

		code, payload := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func okResponse(inApp, latest []map[string]any) map[string]any {
	return map[string]any{
		"status":              0,
		"receipt":             map[string]any{"in_app": inApp},
		"latest_receipt_info": latest,
	}
}

func verifier(prod, sandbox *appleStub, opts ...receipt.Option) *receipt.AppleVerifier {
	sandboxURL := "http://127.0.0.1:1/unused"
	if sandbox != nil {
		sandboxURL = sandbox.server.URL
	}
	opts = append([]receipt.Option{receipt.WithEndpoints(prod.server.URL, sandboxURL)}, opts...)
	return receipt.NewApple(opts...)
}

func TestAppleVerifyProduction(t *testing.T) {
	prod := newAppleStub(t, func(map[string]any) (int, any) {
		return http.StatusOK, okResponse([]map[string]any{
			{"product_id": "credits_10", "transaction_id": "T0", "purchase_date_ms": "1700000000000"},
			{"product_id": "credits_50", "transaction_id": "T1", "original_transaction_id": "O1", "purchase_date_ms": "1700000000123"},
		}, nil)
	})

	res, err := verifier(prod, nil, receipt.WithSharedSecret("s3cret")).Verify(context.Background(), receipt.Request{
		Platform: "ios", ProductID: "credits_50", Receipt: "raw",
	})
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, "T1", res.TransactionID)
	assert.Equal(t, "O1", res.OriginalTransactionID)
	assert.Equal(t, "credits_50", res.ProductID)
	assert.Equal(t, "production", res.Environment)
	require.NotNil(t, res.PurchasedAt)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), *res.PurchasedAt)
	assert.Equal(t, "2023-11-14T22:13:20.123Z", res.PurchasedAt.Format("2006-01-02T15:04:05.000Z07:00"))

	body := prod.last.Load().(map[string]any)
	assert.Equal(t, "raw", body["receipt-data"])
	assert.Equal(t, "s3cret", body["password"])
	assert.Equal(t, true, body["exclude-old-transactions"])
	assert.EqualValues(t, 1, prod.calls.Load())
}

func TestAppleSandboxFallback(t *testing.T) {
	prod := newAppleStub(t, func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"status": receipt.StatusSandboxReceipt}
	})
	sandbox := newAppleStub(t, func(map[string]any) (int, any) {
		return http.StatusOK, okResponse([]map[string]any{
			{"product_id": "credits_10", "transaction_id": "S1"},
		}, nil)
	})

	res, err := verifier(prod, sandbox).Verify(context.Background(), receipt.Request{
		Platform: "ios", ProductID: "credits_10", Receipt: "raw",
	})
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, "sandbox", res.Environment)
	assert.Equal(t, "S1", res.TransactionID)
	assert.Equal(t, "S1", res.OriginalTransactionID, "original id defaults to transaction id")
	assert.Nil(t, res.PurchasedAt, "missing purchase date yields nil")
	assert.EqualValues(t, 1, prod.calls.Load())
	assert.EqualValues(t, 1, sandbox.calls.Load())
}

func TestAppleSandboxResultDecides(t *testing.T) {
	prod := newAppleStub(t, func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"status": receipt.StatusSandboxReceipt}
	})
	sandbox := newAppleStub(t, func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"status": 21003}
	})

	res, err := verifier(prod, sandbox).Verify(context.Background(), receipt.Request{
		Platform: "ios", ProductID: "credits_10", Receipt: "raw",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 21003, res.Status)
	assert.EqualValues(t, 1, sandbox.calls.Load(), "sandbox is tried exactly once")
}

func TestAppleRejections(t *testing.T) {
	tests := []struct {
		name   string
		resp   map[string]any
		reason string
	}{
		{"bad status", map[string]any{"status": 21002}, "apple status 21002"},
		{"product absent", okResponse([]map[string]any{{"product_id": "other", "transaction_id": "X"}}, nil), "product not found in receipt"},
		{"empty receipt", okResponse(nil, nil), "product not found in receipt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prod := newAppleStub(t, func(map[string]any) (int, any) { return http.StatusOK, tt.resp })
			res, err := verifier(prod, nil).Verify(context.Background(), receipt.Request{
				Platform: "ios", ProductID: "credits_10", Receipt: "raw",
			})
			require.NoError(t, err, "a rejected receipt is not an error")
			assert.False(t, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestAppleLatestReceiptInfoFallback(t *testing.T) {
	prod := newAppleStub(t, func(map[string]any) (int, any) {
		return http.StatusOK, okResponse(
			[]map[string]any{{"product_id": "credits_10", "transaction_id": "A"}},
			[]map[string]any{{"product_id": "credits_100", "transaction_id": "L1", "purchase_date_ms": "1700000000000"}},
		)
	})

	res, err := verifier(prod, nil).Verify(context.Background(), receipt.Request{
		Platform: "ios", ProductID: "credits_100", Receipt: "raw",
	})
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, "L1", res.TransactionID)
}

func TestAppleTransportFailures(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		prod := newAppleStub(t, func(map[string]any) (int, any) { return http.StatusServiceUnavailable, map[string]any{} })
		_, err := verifier(prod, nil).Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "p", Receipt: "r"})
		require.ErrorIs(t, err, receipt.ErrTransport)
	})

	t.Run("undecodable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer srv.Close()
		v := receipt.NewApple(receipt.WithEndpoints(srv.URL, srv.URL))
		_, err := v.Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "p", Receipt: "r"})
		require.ErrorIs(t, err, receipt.ErrTransport)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		v := receipt.NewApple(receipt.WithEndpoints(srv.URL, srv.URL), receipt.WithTimeout(20*time.Millisecond))
		_, err := v.Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "p", Receipt: "r"})
		require.ErrorIs(t, err, receipt.ErrTransport)
	})

	t.Run("sandbox unreachable", func(t *testing.T) {
		prod := newAppleStub(t, func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"status": receipt.StatusSandboxReceipt}
		})
		_, err := verifier(prod, nil).Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "p", Receipt: "r"})
		require.ErrorIs(t, err, receipt.ErrTransport)
	})
}

func TestAppleUnsupportedPlatform(t *testing.T) {
	prod := newAppleStub(t, func(map[string]any) (int, any) { return http.StatusOK, okResponse(nil, nil) })
	res, err := verifier(prod, nil).Verify(context.Background(), receipt.Request{Platform: "android", ProductID: "p", Receipt: "r"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.EqualValues(t, 0, prod.calls.Load())
}

func TestStatic(t *testing.T) {
	v := receipt.NewStatic().Accept("good", "credits_10", "T1")

	res, err := v.Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "credits_10", Receipt: "good"})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "credits_50", Receipt: "good"})
	require.NoError(t, err)
	assert.False(t, res.Valid, "claiming a different product fails")

	res, err = v.Verify(context.Background(), receipt.Request{Platform: "ios", ProductID: "credits_10", Receipt: "nope"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, v.Calls())
}
