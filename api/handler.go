// Package api exposes the paywall engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/catalog"
	"github.com/erasekit/paywall/edit"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/transaction"
	"github.com/erasekit/paywall/types"
)

// DefaultMaxImageBytes caps the decoded image of an edit request.
const DefaultMaxImageBytes = 10 << 20

const (
	defaultListLimit = 50
	// smallBodyBytes caps request bodies that carry no image.
	smallBodyBytes = 1 << 20
)

// Handler serves the paywall routes.
type Handler struct {
	engine        *paywall.Engine
	editor        edit.Editor
	validate      *validator.Validate
	logger        *slog.Logger
	maxImageBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithEditor sets the edit collaborator.
func WithEditor(ed edit.Editor) Option {
	return func(h *Handler) { h.editor = ed }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMaxImageBytes sets the decoded image size limit.
func WithMaxImageBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxImageBytes = n
		}
	}
}

// NewHandler creates a Handler. Without WithEditor, edits go to an ArkEditor
// with no key, which echoes the input.
func NewHandler(engine *paywall.Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:        engine,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        slog.Default(),
		maxImageBytes: DefaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.editor == nil {
		h.editor = edit.NewArk(edit.WithLogger(h.logger))
	}
	return h
}

// ──────────────────────────────────────────────────
// Request and response shapes
// ──────────────────────────────────────────────────

type statusResponse struct {
	InstallID     string `json:"installId"`
	IsPro         bool   `json:"isPro"`
	FreeRemaining int64  `json:"freeRemaining"`
	Credits       int64  `json:"credits"`
}

func newStatusResponse(st *entitlement.Status) statusResponse {
	return statusResponse{
		InstallID:     st.InstallID,
		IsPro:         st.IsPro,
		FreeRemaining: st.FreeRemaining,
		Credits:       st.Credits,
	}
}

type authorizeRequest struct {
	InstallID string `json:"installId" validate:"required,max=128"`
}

type authorizeResponse struct {
	Authorized bool   `json:"authorized"`
	Source     string `json:"source"`
	statusResponse
}

type bboxRequest struct {
	X0 *float64 `json:"x0" validate:"required"`
	Y0 *float64 `json:"y0" validate:"required"`
	X1 *float64 `json:"x1" validate:"required"`
	Y1 *float64 `json:"y1" validate:"required"`
}

type editRequest struct {
	InstallID   string       `json:"installId"   validate:"required,max=128"`
	ImageBase64 string       `json:"imageBase64" validate:"required"`
	BBox        *bboxRequest `json:"bbox"        validate:"required"`
	RetryLevel  int          `json:"retryLevel"  validate:"gte=0,lte=2"`
}

type editMeta struct {
	RetryLevel int `json:"retryLevel"`
}

type editResponse struct {
	ResultBase64  string   `json:"resultBase64"`
	Meta          editMeta `json:"meta"`
	FreeRemaining int64    `json:"freeRemaining"`
	Credits       int64    `json:"credits"`
}

type verifyRequest struct {
	InstallID string `json:"installId" validate:"required,max=128"`
	Platform  string `json:"platform"  validate:"required"`
	ProductID string `json:"productId" validate:"required"`
	Receipt   string `json:"receipt"   validate:"required"`
}

type verifyResponse struct {
	IsPro         bool   `json:"isPro"`
	Credits       int64  `json:"credits"`
	CreditsAdded  int64  `json:"creditsAdded"`
	FreeRemaining int64  `json:"freeRemaining"`
	TransactionID string `json:"transactionId"`
	Replayed      bool   `json:"replayed"`
}

type productResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Kind      catalog.EffectKind `json:"kind"`
	Credits   int64              `json:"credits,omitempty"`
	Price     types.Money        `json:"price"`
	UnitPrice types.Money        `json:"unitPrice"`
}

// ──────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────

// handleHealth reports whether the store is reachable.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListProducts returns the products a receipt may be verified against.
func (h *Handler) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	products := h.engine.Catalog().Products()
	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:        p.ID,
			Name:      p.Name,
			Kind:      p.Effect.Kind,
			Credits:   p.Effect.CreditDelta(),
			Price:     p.Price,
			UnitPrice: p.UnitPrice(),
		})
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// handleGetEntitlement returns the entitlement snapshot of an install.
func (h *Handler) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	installID := strings.TrimSpace(r.URL.Query().Get("installId"))
	if installID == "" {
		h.respondWithError(w, r, paywall.ValidationError{Field: "installId", Message: "required"})
		return
	}

	st, err := h.engine.GetStatus(r.Context(), installID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newStatusResponse(st))
}

// handleAuthorize is a paywall probe: it reports whether one use would be
// allowed without counting anything.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !h.decode(w, r, smallBodyBytes, &req) {
		return
	}

	d, err := h.engine.AuthorizeUsage(r.Context(), req.InstallID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	st, err := h.engine.GetStatus(r.Context(), req.InstallID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, authorizeResponse{
		Authorized:     true,
		Source:         string(d.Source),
		statusResponse: newStatusResponse(st),
	})
}

// handleEdit authorizes one use, runs the editor and counts the use only if
// the edit succeeded.
func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !h.decode(w, r, h.maxBodyBytes(), &req) {
		return
	}

	editReq := edit.Request{
		ImageBase64: req.ImageBase64,
		BBox:        edit.BBox{X0: *req.BBox.X0, Y0: *req.BBox.Y0, X1: *req.BBox.X1, Y1: *req.BBox.Y1},
		RetryLevel:  req.RetryLevel,
	}
	if err := editReq.Validate(); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	raw, err := edit.ImageBytes(req.ImageBase64)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if int64(len(raw)) > h.maxImageBytes {
		h.respondWithError(w, r, fmt.Errorf("%w: %.1fMB (max: %.0fMB)", errImageTooLarge,
			float64(len(raw))/(1<<20), float64(h.maxImageBytes)/(1<<20)))
		return
	}

	var (
		result  *edit.Result
		editErr error
	)
	st, err := h.engine.ConsumeUsage(r.Context(), req.InstallID, func(ctx context.Context) error {
		result, editErr = h.editor.Edit(ctx, editReq)
		return editErr
	})
	if editErr != nil {
		if !errors.Is(editErr, edit.ErrInvalidRequest) && !errors.Is(editErr, edit.ErrFailed) {
			editErr = fmt.Errorf("%w: %w", edit.ErrFailed, editErr)
		}
		h.respondWithError(w, r, editErr)
		return
	}
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, editResponse{
		ResultBase64:  result.ImageBase64,
		Meta:          editMeta{RetryLevel: result.RetryLevel},
		FreeRemaining: st.FreeRemaining,
		Credits:       st.Credits,
	})
}

// handleVerifyPurchase verifies a store receipt and applies its product.
func (h *Handler) handleVerifyPurchase(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, h.maxBodyBytes(), &req) {
		return
	}

	res, err := h.engine.VerifyAndApplyPurchase(r.Context(), paywall.PurchaseRequest{
		InstallID: req.InstallID,
		Platform:  req.Platform,
		ProductID: req.ProductID,
		Receipt:   req.Receipt,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, verifyResponse{
		IsPro:         res.Status.IsPro,
		Credits:       res.Status.Credits,
		CreditsAdded:  res.CreditsAdded,
		FreeRemaining: res.Status.FreeRemaining,
		TransactionID: res.TransactionID,
		Replayed:      res.Replayed,
	})
}

// handleListTransactions returns the ledger rows owned by an install.
func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	installID := strings.TrimSpace(q.Get("installId"))
	if installID == "" {
		h.respondWithError(w, r, paywall.ValidationError{Field: "installId", Message: "required"})
		return
	}
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil {
		h.respondWithError(w, r, paywall.ValidationError{Field: "limit", Message: err.Error()})
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		h.respondWithError(w, r, paywall.ValidationError{Field: "offset", Message: err.Error()})
		return
	}

	rows, err := h.engine.Transactions(r.Context(), installID, transaction.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*transaction.Record{}
	}
	respondWithJSON(w, http.StatusOK, rows)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// maxBodyBytes allows for base64 overhead on top of the image limit.
func (h *Handler) maxBodyBytes() int64 {
	return h.maxImageBytes*4/3 + smallBodyBytes
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", errImageTooLarge, tooLarge.Limit))
			return false
		}
		h.respondWithError(w, r, paywall.ValidationError{Field: "body", Message: "invalid JSON"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithError(w, r, validationError(err))
		return false
	}
	return true
}

// validationError turns the first validator failure into a ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return paywall.ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag()}
	}
	return paywall.ValidationError{Field: "body", Message: err.Error()}
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", body.Code,
			"error", err,
		)
	}
	respondWithJSON(w, status, body)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}

// respondWithJSON writes payload as a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
