package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Apple verifyReceipt endpoints.
const (
	ProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	SandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"
)

// StatusSandboxReceipt is returned by production for a receipt issued in the sandbox.
const StatusSandboxReceipt = 21007

// DefaultTimeout bounds each round-trip to Apple.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 4 << 20

// AppleVerifier calls Apple's verifyReceipt endpoint, falling back to the
// sandbox once when production reports a sandbox receipt.
type AppleVerifier struct {
	client        *http.Client
	productionURL string
	sandboxURL    string
	sharedSecret  string
	logger        *slog.Logger
}

// Option configures an AppleVerifier.
type Option func(*AppleVerifier)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(v *AppleVerifier) { v.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *AppleVerifier) {
		c := *v.client
		c.Timeout = d
		v.client = &c
	}
}

// WithSharedSecret sets the App Store shared secret sent as "password".
func WithSharedSecret(secret string) Option {
	return func(v *AppleVerifier) { v.sharedSecret = secret }
}

// WithEndpoints overrides the production and sandbox URLs.
func WithEndpoints(production, sandbox string) Option {
	return func(v *AppleVerifier) {
		v.productionURL = production
		v.sandboxURL = sandbox
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *AppleVerifier) { v.logger = l }
}

// NewApple creates an Apple receipt verifier.
func NewApple(opts ...Option) *AppleVerifier {
	v := &AppleVerifier{
		client:        &http.Client{Timeout: DefaultTimeout},
		productionURL: ProductionURL,
		sandboxURL:    SandboxURL,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var _ Verifier = (*AppleVerifier)(nil)

type appleRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type appleResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		InApp []appleInApp `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo []appleInApp `json:"latest_receipt_info"`
}

type appleInApp struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
}

// Verify implements Verifier.
func (v *AppleVerifier) Verify(ctx context.Context, req Request) (*Result, error) {
	if req.Platform != PlatformIOS {
		return Invalid("unsupported platform " + strconv.Quote(req.Platform)), nil
	}

	env := "production"
	resp, err := v.post(ctx, v.productionURL, req.Receipt)
	if err != nil {
		return nil, err
	}

	if resp.Status == StatusSandboxReceipt {
		v.logger.Debug("receipt is from sandbox, retrying", "product_id", req.ProductID)
		env = "sandbox"
		resp, err = v.post(ctx, v.sandboxURL, req.Receipt)
		if err != nil {
			return nil, err
		}
	}

	if resp.Status != 0 {
		v.logger.Info("apple rejected receipt",
			"status", resp.Status,
			"environment", env,
			"product_id", req.ProductID,
		)
		return &Result{Valid: false, Status: resp.Status, Environment: env,
			Reason: fmt.Sprintf("apple status %d", resp.Status)}, nil
	}

	item, ok := findProduct(resp.Receipt.InApp, req.ProductID)
	if !ok {
		item, ok = findProduct(resp.LatestReceiptInfo, req.ProductID)
	}
	if !ok {
		return &Result{Valid: false, Environment: env, Reason: "product not found in receipt"}, nil
	}
	if item.TransactionID == "" {
		return &Result{Valid: false, Environment: env, Reason: "receipt entry has no transaction id"}, nil
	}

	original := item.OriginalTransactionID
	if original == "" {
		original = item.TransactionID
	}

	return &Result{
		Valid:                 true,
		Environment:           env,
		TransactionID:         item.TransactionID,
		OriginalTransactionID: original,
		ProductID:             item.ProductID,
		PurchasedAt:           parseMillis(item.PurchaseDateMS),
	}, nil
}

func (v *AppleVerifier) post(ctx context.Context, url, receiptData string) (*appleResponse, error) {
	body, err := json.Marshal(appleRequest{
		ReceiptData:            receiptData,
		Password:               v.sharedSecret,
		ExcludeOldTransactions: true,
	})
	if err != nil {
		return nil, fmt.Errorf("receipt: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("receipt: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned http %d", ErrTransport, url, httpResp.StatusCode)
	}

	var out appleResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrTransport, err)
	}
	return &out, nil
}

func findProduct(items []appleInApp, productID string) (appleInApp, bool) {
	for _, it := range items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return appleInApp{}, false
}

// parseMillis converts Apple's epoch-millisecond string. Missing or malformed
// values yield nil.
func parseMillis(ms string) *time.Time {
	if ms == "" {
		return nil
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(n).UTC()
	return &t
}
