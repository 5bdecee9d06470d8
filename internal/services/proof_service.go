package services

import (
	"context"

	"github.com/escrow-rooms/backend/internal/models"
	"github.com/escrow-rooms/backend/internal/proofcheck"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProofDisputeStore interface {
	ListUnchecked(ctx context.Context, limit int) ([]models.Dispute, error)
	MarkChecked(ctx context.Context, id uuid.UUID, alive bool, title *string) error
}

type ProofChecker interface {
	Check(ctx context.Context, url string) (proofcheck.Result, error)
}

// ProofService drains the queue of dispute proofs the worker has not
// fetched yet. Each dispute is checked exactly once; the checker already
// retries transport failures, so a URL that still fails is recorded dead.
type ProofService struct {
	disputes  ProofDisputeStore
	checker   ProofChecker
	batchSize int
	log       *zap.Logger
}

func NewProofService(disputes ProofDisputeStore, checker ProofChecker, log *zap.Logger) *ProofService {
	return &ProofService{
		disputes:  disputes,
		checker:   checker,
		batchSize: 20,
		log:       log,
	}
}

func (s *ProofService) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.disputes.ListUnchecked(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, d := range pending {
		if d.ProofURL == nil {
			continue
		}

		res, err := s.checker.Check(ctx, *d.ProofURL)
		if err != nil {
			s.log.Warn("proof fetch failed",
				zap.String("dispute_id", d.ID.String()), zap.Error(err))
			res = proofcheck.Result{Alive: false}
		}

		var title *string
		if res.Title != "" {
			title = &res.Title
		}
		if err := s.disputes.MarkChecked(ctx, d.ID, res.Alive, title); err != nil {
			s.log.Error("mark proof checked",
				zap.String("dispute_id", d.ID.String()), zap.Error(err))
			continue
		}
		checked++
	}
	return checked, nil
}
