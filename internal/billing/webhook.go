package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"matchbot/internal/matching"
	"matchbot/internal/metrics"
)

const maxWebhookBody = 64 << 10

// EventApplier applies a decoded payment event.
type EventApplier interface {
	Apply(ctx context.Context, ev Event) (*Result, error)
}

// WebhookHandler verifies payment provider callbacks and forwards events.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    []byte
	processor EventApplier
}

// NewWebhookHandler creates a new webhook handler. Requests are signed with
// HMAC-SHA256 of the raw body in the X-Signature header.
func NewWebhookHandler(logger *slog.Logger, metricRegistry *metrics.Metrics, secret string, processor EventApplier) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "payment_webhook"),
		metrics:   metricRegistry,
		secret:    []byte(secret),
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(h.secret) == 0 {
		http.Error(w, "payment webhook disabled", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.countError("payment_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.validateSignature(r.Header, body); err != nil {
		h.countError("payment_webhook_auth")
		h.logger.Warn("rejected webhook", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		h.countError("payment_webhook")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	res, err := h.processor.Apply(r.Context(), ev)
	switch {
	case errors.Is(err, ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, matching.ErrNotFound):
		http.Error(w, "unknown profile", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("failed processing webhook", "error", err, "provider_ref", ev.ProviderRef)
		h.countError("payment_webhook_process")
		http.Error(w, "failed to process", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"applied":      res.Applied,
		"duplicate":    res.Duplicate,
		"boost_active": res.BoostActive,
	})
}

func (h *WebhookHandler) validateSignature(header http.Header, body []byte) error {
	signature := strings.ToLower(strings.TrimSpace(header.Get("X-Signature")))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	if !hmac.Equal(got, Sign(h.secret, body)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded as lowercase hex, the X-Signature header format.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}

func (h *WebhookHandler) countError(component string) {
	if h.metrics == nil {
		return
	}
	h.metrics.Errors.WithLabelValues(component).Inc()
}
