package recompute

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/pkg/logger"
	"github.com/okian/expertrank/pkg/metrics"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Entities int `json:"entities"`
	Purged   int `json:"purged"`
	Failed   int `json:"failed"`
}

// Reconcile recomputes every expert and candidate from current documents
// and drops aggregates of owners that no longer exist. It clears the
// failed-event ledger when every entity succeeds.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var (
		rep  ReconcileReport
		errs []error
	)
	for _, kind := range []model.EntityKind{model.KindExpert, model.KindCandidate} {
		ids, err := retry(ctx, o, "list "+string(kind), func() ([]string, error) {
			return o.repo.ListIDs(ctx, kind)
		})
		if err != nil {
			return rep, err
		}
		live := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			live[id] = struct{}{}
			rep.Entities++
			ev := model.MutationEvent{
				ID:          "reconcile/" + string(kind) + "/" + id,
				Kind:        kind,
				Action:      model.ActionLinked,
				EntityID:    id,
				CommittedAt: o.now(),
			}
			if err := o.Process(ctx, ev); err != nil {
				rep.Failed++
				errs = append(errs, err)
			}
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
		}

		aggs, err := retry(ctx, o, "list aggregates", func() ([]model.Aggregate, error) {
			return o.scores.ListAggregates(ctx, kind)
		})
		if err != nil {
			return rep, err
		}
		for _, a := range aggs {
			if _, ok := live[a.ID]; ok {
				continue
			}
			if err := o.purgeOwner(ctx, a.EntityRef); err != nil {
				errs = append(errs, err)
				continue
			}
			rep.Purged++
		}
	}

	if len(errs) > 0 {
		o.logger.Warn(ctx, "reconcile incomplete", logger.Int("failed", rep.Failed), logger.Int("purged", rep.Purged))
		return rep, fmt.Errorf("%w: reconcile: %w", ErrPartialFailure, errors.Join(errs...))
	}

	o.ledgerMu.Lock()
	o.ledger = nil
	o.ledgerMu.Unlock()
	metrics.UpdateFailedLedgerSize(0)
	o.logger.Info(ctx, "reconcile complete", logger.Int("entities", rep.Entities), logger.Int("purged", rep.Purged))
	return rep, nil
}
