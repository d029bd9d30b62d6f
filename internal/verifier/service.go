// File: internal/verifier/service.go
package verifier

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/xkilldash9x/airwork-authcheck/internal/browser/session"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"github.com/xkilldash9x/airwork-authcheck/internal/observability"
	"go.uber.org/zap"
)

// Service runs one verification end to end: acquire a page, drive the
// login, classify the result, release the page.
type Service struct {
	provider       session.Provider
	driver         *Driver
	classifier     *Classifier
	builder        *Builder
	indicator      string
	releaseTimeout time.Duration
	logger         *zap.Logger
}

// NewService wires a service from configuration.
func NewService(cfg *config.Config, provider session.Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:       provider,
		driver:         NewDriver(cfg.Target, cfg.Verifier, logger),
		classifier:     NewClassifier(cfg.Verifier),
		builder:        NewBuilder(cfg.Verifier.ExposeStack),
		indicator:      cfg.Verifier.DefaultIndicator,
		releaseTimeout: cfg.Browser.ReleaseTimeout,
		logger:         logger.Named("verifier"),
	}
}

// Reject builds the envelope for a request refused before it reached Check,
// such as a wrong method or an unreadable body.
func (s *Service) Reject(err error) Envelope { return s.builder.Error(err) }

// Check validates a raw request body and verifies it when it is acceptable.
// Rejected requests never reach the browser.
func (s *Service) Check(ctx context.Context, body []byte) Envelope {
	req, err := ParseRequest(body, s.indicator)
	if err != nil {
		s.logger.Info("Rejected verification request", zap.Error(err))
		return s.builder.Error(err)
	}
	return s.Verify(ctx, req)
}

// Verify never returns an error; every outcome, including a panic inside
// the browser flow, is reported through the envelope.
func (s *Service) Verify(ctx context.Context, req VerificationRequest) (env Envelope) {
	log := s.logger.With(observability.MaskedUser(req.Username))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic during verification", zap.Any("panic", r), zap.Stack("stack"))
			env = s.builder.Error(pkgerrors.Errorf("panic during verification: %v", r))
		}
		log.Info("Verification finished",
			zap.Bool("success", env.Success),
			zap.String("status", env.Details.Status),
			zap.String("code", env.Details.Code),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()

	page, err := s.provider.Acquire(ctx)
	if err != nil {
		log.Error("Failed to acquire browser session", zap.Error(err))
		return s.builder.Error(pkgerrors.WithStack(err))
	}
	defer s.release(ctx, page, log)

	outcome, state, err := s.driver.Login(ctx, page, req)
	if err != nil {
		log.Warn("Login flow failed", zap.Stringer("state", state), zap.Error(err))
		return s.builder.Error(err)
	}

	verdict, err := s.classifier.Classify(outcome, req.Indicator)
	if err != nil {
		log.Warn("Classification failed", zap.Error(err))
		return s.builder.Error(err)
	}

	log.Debug("Page classified",
		zap.Stringer("verdict", verdict.Kind),
		zap.String("matched", verdict.MatchedIndicator),
		zap.String("keyword", verdict.Diagnostic.KeywordMatched),
		zap.Int("links", verdict.Diagnostic.LinksHarvested),
		zap.Int("corroborating", len(verdict.Diagnostic.CorroboratingLinks)),
	)
	return s.builder.Verdict(verdict, outcome.URL)
}

// release runs on a context detached from the request so an aborted request
// still tears its browser down. Failures are logged and never replace the
// outcome already decided.
func (s *Service) release(ctx context.Context, page session.Page, log *zap.Logger) {
	relCtx, cancel := context.WithTimeout(session.Detach(ctx), s.releaseTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while releasing browser session", zap.Any("panic", r))
		}
	}()
	if err := s.provider.Release(relCtx, page); err != nil {
		log.Error("Failed to release browser session", zap.String("session_id", page.ID()), zap.Error(err))
	}
}
