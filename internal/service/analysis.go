// Package service contains the business logic layer.
//
// Services orchestrate the ledger, the data provider, the metrics engine and
// the payment reconciler. Transports (the chat dispatcher and the HTTP
// handlers) call services and never touch those components directly.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/engagement"
	"github.com/DukeRupert/reelstat/internal/ledger"
	"github.com/DukeRupert/reelstat/internal/metrics"
	"github.com/DukeRupert/reelstat/internal/provider"
)

// =============================================================================
// Interface Definition
// =============================================================================

// ProfileSource fetches profile data. *provider.API satisfies it.
type ProfileSource interface {
	LookupProfile(ctx context.Context, profileURL string) (*domain.ProfileSnapshot, error)
	ListContent(ctx context.Context, userID string) ([]domain.ContentItem, error)
}

// AnalysisRequest identifies who asked for which profile.
type AnalysisRequest struct {
	UserID     int64
	Username   string
	ProfileURL string
}

// AnalysisResult is the outcome of an analysis. When Admitted is false the
// user is out of checks, Record explains why, and nothing was fetched.
type AnalysisResult struct {
	Admitted   bool
	Record     *domain.QuotaRecord
	Profile    *domain.ProfileSnapshot
	Prediction domain.PredictionResult
}

// AnalysisService runs a quota-gated profile analysis.
type AnalysisService interface {
	// Analyze checks admission, fetches the profile and its content, computes
	// the prediction and debits one check. A fetch failure returns the
	// provider error and debits nothing.
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type analysisService struct {
	ledger   ledger.Ledger
	source   ProfileSource
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(l ledger.Ledger, source ProfileSource, recorder audit.Recorder, logger *slog.Logger) AnalysisService {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &analysisService{
		ledger:   l,
		source:   source,
		recorder: recorder,
		logger:   logger.With("component", "analysis"),
		now:      time.Now,
	}
}

func (s *analysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	const op = "analysis.analyze"

	start := s.now()
	outcome := "error"
	defer func() {
		metrics.AnalysisDuration.WithLabelValues(outcome).Observe(s.now().Sub(start).Seconds())
	}()

	decision, err := s.ledger.CanConsume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Admitted {
		outcome = "denied"
		s.logger.Info("Analysis denied, no checks left",
			"user_id", req.UserID,
			"tariff", decision.Record.Tariff,
		)
		return &AnalysisResult{Admitted: false, Record: decision.Record}, nil
	}

	profile, err := s.source.LookupProfile(ctx, req.ProfileURL)
	if err != nil {
		outcome = fetchOutcome(err)
		s.trackProfileRequest(ctx, req, outcome, err)
		s.logger.Warn("Profile lookup failed",
			"user_id", req.UserID,
			"profile_url", req.ProfileURL,
			"op", op,
			"error", err,
		)
		return nil, err
	}

	items, err := s.source.ListContent(ctx, profile.ID)
	if err != nil {
		outcome = fetchOutcome(err)
		s.trackProfileRequest(ctx, req, outcome, err)
		s.logger.Warn("Content listing failed",
			"user_id", req.UserID,
			"profile_id", profile.ID,
			"op", op,
			"error", err,
		)
		return nil, err
	}

	prediction := engagement.Predict(*profile, items, s.now())
	s.trackProfileRequest(ctx, req, "success", nil)

	// The analysis is already paid for by the provider calls, so a failed
	// debit is logged and the result is still delivered.
	record, err := s.ledger.Consume(ctx, req.UserID)
	if err != nil {
		s.logger.Error("Failed to debit check after analysis",
			"user_id", req.UserID,
			"op", domain.ErrorOp(err),
			"error", err,
		)
		record = decision.Record
	}

	outcome = "success"
	s.logger.Info("Analysis completed",
		"user_id", req.UserID,
		"profile", profile.Username,
		"reels_in_window", prediction.ReelsInWindow,
	)
	return &AnalysisResult{
		Admitted:   true,
		Record:     record,
		Profile:    profile,
		Prediction: prediction,
	}, nil
}

// trackProfileRequest records one admitted lookup and whether it produced a
// result.
func (s *analysisService) trackProfileRequest(ctx context.Context, req AnalysisRequest, outcome string, err error) {
	data := map[string]any{
		"profile_url": req.ProfileURL,
		"success":     err == nil,
	}
	if err != nil {
		data["error_kind"] = outcome
	}
	s.recorder.Record(ctx, audit.Event{
		Type:     audit.EventProfileRequest,
		UserID:   req.UserID,
		Username: req.Username,
		Data:     data,
	})
}

// fetchOutcome labels a failed analysis by provider error kind.
func fetchOutcome(err error) string {
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
