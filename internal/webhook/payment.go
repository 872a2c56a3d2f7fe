// Package webhook turns provider payment notifications into payment events.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/BatmanBruc/club-subscription-bot/internal/payments"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/shopspring/decimal"
)

const maxBody = 1 << 20

type Processor interface {
	Process(ctx context.Context, ev types.PaymentEvent) (payments.Result, error)
}

type PaymentHandler struct {
	provider  string
	processor Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewPaymentHandler(provider string, processor Processor, m *metrics.Metrics, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{
		provider:  provider,
		processor: processor,
		metrics:   m,
		logger:    logger.With("component", "webhook"),
	}
}

type response struct {
	OK        bool   `json:"ok"`
	Processed bool   `json:"processed"`
	Error     string `json:"error,omitempty"`
}

func (h *PaymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	code := h.handle(w, r)
	h.metrics.ObserveWebhook(strconv.Itoa(code), time.Since(started))
}

func (h *PaymentHandler) handle(w http.ResponseWriter, r *http.Request) int {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return respond(w, http.StatusBadRequest, response{Error: "unreadable body"})
	}
	ev, err := Normalize(h.provider, body)
	if err != nil {
		h.logger.Warn("rejected payment webhook", "error", err)
		return respond(w, http.StatusBadRequest, response{Error: err.Error()})
	}

	res, err := h.processor.Process(r.Context(), ev)
	switch {
	case errors.Is(err, payments.ErrValidation):
		return respond(w, http.StatusBadRequest, response{Error: "missing id or status"})
	case errors.Is(err, payments.ErrUserNotFound):
		// non-2xx so the provider delivers again once the user exists
		return respond(w, http.StatusUnprocessableEntity, response{Error: "user not found"})
	case err != nil:
		return respond(w, http.StatusInternalServerError, response{Error: "processing failed"})
	}
	return respond(w, http.StatusOK, response{OK: true, Processed: res.Outcome == payments.OutcomeProcessed})
}

func respond(w http.ResponseWriter, code int, payload response) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
	return code
}

// Normalize accepts the field aliases providers use: id, payment_id or
// external_id; user_telegram_id or metadata.telegram_id; plan or
// metadata.plan. Numbers may arrive as JSON numbers or strings.
func Normalize(provider string, body []byte) (types.PaymentEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return types.PaymentEvent{}, fmt.Errorf("decode payload: %w", err)
	}
	meta, _ := raw["metadata"].(map[string]any)

	ev := types.PaymentEvent{
		Provider:   provider,
		ExternalID: firstString(raw["id"], raw["payment_id"], raw["external_id"]),
		Status:     strings.ToLower(strings.TrimSpace(str(raw["status"]))),
		Currency:   strings.ToUpper(str(raw["currency"])),
		Plan:       types.Plan(firstString(raw["plan"], meta["plan"])),
	}
	if ev.Currency == "" {
		ev.Currency = payments.DefaultCurrency
	}
	if ev.ExternalID == "" || ev.Status == "" {
		return ev, payments.ErrValidation
	}

	if s := str(raw["amount"]); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return ev, fmt.Errorf("amount %q: %w", s, err)
		}
		ev.Amount = &amount
	}
	if s := firstString(raw["user_telegram_id"], meta["telegram_id"]); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ev, fmt.Errorf("telegram id %q: %w", s, err)
		}
		ev.UserTelegramID = &id
	}
	return ev, nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func firstString(vs ...any) string {
	for _, v := range vs {
		if s := str(v); s != "" {
			return s
		}
	}
	return ""
}
