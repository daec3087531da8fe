package api

import (
	"errors"
	"net/http"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/edit"
)

// Error codes returned in the "code" field of an error body.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidPlatform    = "INVALID_PLATFORM"
	CodeInvalidProduct     = "INVALID_PRODUCT"
	CodeInvalidReceipt     = "INVALID_RECEIPT"
	CodePaywall            = "PAYWALL"
	CodeImageTooLarge      = "IMAGE_TOO_LARGE"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeEditFailed         = "EDIT_FAILED"
	CodeInternal           = "INTERNAL"
)

// errImageTooLarge is returned when a request body or decoded image exceeds the limit.
var errImageTooLarge = errors.New("image too large")

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorMapping pairs a sentinel with the status and code it surfaces as.
// Order matters: the first match wins.
var errorMappings = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{paywall.ErrPaywallExceeded, http.StatusPaymentRequired, CodePaywall, "Free quota used. Please purchase credits or Pro."},
	{paywall.ErrUnsupportedPlatform, http.StatusBadRequest, CodeInvalidPlatform, ""},
	{paywall.ErrUnknownProduct, http.StatusBadRequest, CodeInvalidProduct, ""},
	{paywall.ErrInvalidReceipt, http.StatusBadRequest, CodeInvalidReceipt, ""},
	{paywall.ErrInvalidInput, http.StatusBadRequest, CodeInvalidRequest, ""},
	{edit.ErrInvalidRequest, http.StatusBadRequest, CodeInvalidRequest, ""},
	{errImageTooLarge, http.StatusRequestEntityTooLarge, CodeImageTooLarge, ""},
	{paywall.ErrVerificationTransport, http.StatusInternalServerError, CodeVerificationFailed, "Receipt verification is unavailable. Please retry."},
	{edit.ErrFailed, http.StatusBadGateway, CodeEditFailed, "Image editing failed. Nothing was charged."},
}

// classify maps err onto an HTTP status and body. Unknown errors become
// INTERNAL and their text is not exposed.
func classify(err error) (int, ErrorResponse) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, ErrorResponse{Code: m.code, Message: msg}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "Internal server error"}
}
