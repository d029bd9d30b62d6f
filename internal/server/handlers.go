// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/airwork-authcheck/internal/verifier"
	"go.uber.org/zap"
)

// CheckPath is the verification endpoint.
const CheckPath = "/check-airwork-auth"

// Checker runs verifications. *verifier.Service implements it.
type Checker interface {
	Check(ctx context.Context, body []byte) verifier.Envelope
	Reject(err error) verifier.Envelope
}

// Handlers serves the HTTP API.
type Handlers struct {
	log          *zap.Logger
	checker      Checker
	maxBodyBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, checker Checker, maxBodyBytes int64) *Handlers {
	return &Handlers{
		log:          logger.Named("handlers"),
		checker:      checker,
		maxBodyBytes: maxBodyBytes,
	}
}

// RegisterRoutes sets up the routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	// Every verb is routed here; the handler answers wrong verbs with an envelope.
	r.HandleFunc(CheckPath, h.HandleCheck)
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleCheck verifies one set of credentials. The HTTP status is always 200
// (204 for preflight); success or failure is carried by the envelope.
func (h *Handlers) HandleCheck(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		h.respond(w, h.checker.Reject(fmt.Errorf("%w: %s", verifier.ErrMethodNotAllowed, r.Method)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: body exceeds %d bytes", verifier.ErrInvalidRequest, tooLarge.Limit)
		} else {
			err = fmt.Errorf("%w: failed to read body", verifier.ErrInvalidRequest)
		}
		h.log.Info("Unreadable request body", zap.Error(err))
		h.respond(w, h.checker.Reject(err))
		return
	}

	h.respond(w, h.checker.Check(r.Context(), body))
}

func (h *Handlers) respond(w http.ResponseWriter, env verifier.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
		payload = []byte(`{"success":false,"message":"internal error","details":{"status":"error"}}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.log.Debug("Failed to write response", zap.Error(err))
	}
}
