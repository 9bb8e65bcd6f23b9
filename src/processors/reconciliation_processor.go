package processors

import (
	"sort"

	"github.com/username/cellarbook/backend/src/models"
)

// reconciliationProcessorImpl implements the ReconciliationProcessor
// interface.
type reconciliationProcessorImpl struct {
	volume VolumeProcessor
}

// NewReconciliationProcessor creates a new instance of
// ReconciliationProcessor.
func NewReconciliationProcessor(volume VolumeProcessor) ReconciliationProcessor {
	return &reconciliationProcessorImpl{volume: volume}
}

// BatchContribution partitions the batch's history into before-start, within
// (start, end] and after-end buckets and derives the window figures. Opening
// is the same replay fold as VolumeAt restricted to the before bucket; the
// after bucket is ignored here (the auditor uses it).
func (p *reconciliationProcessorImpl) BatchContribution(batch *models.Batch, events []models.VolumeEvent, window models.ReconciliationWindow) models.BatchContribution {
	c := models.BatchContribution{
		BatchID:   batch.ID,
		BatchName: batch.Name,
	}

	opening := p.volume.Replay(batch, events, window.Start)
	c.Opening = opening.Volume

	createdInWindow := batch.CreatedAt.After(window.Start) && !batch.CreatedAt.After(window.End)
	if createdInWindow {
		c.Production = effectiveInitialVolume(batch, events)
	}

	for _, ev := range events {
		if !ev.When().After(window.Start) || ev.When().After(window.End) {
			continue
		}
		switch e := ev.(type) {
		case models.TransferIn:
			c.TransfersIn += e.Volume
		case models.TransferOut:
			c.TransfersOut += e.Volume
			c.Losses.Transfer += e.Loss
		case models.MergeIn:
			// New volume entering the batch during the window counts as
			// production, matching how a freshly created batch's initial
			// volume is treated.
			c.Production += e.Volume
		case models.MergeOut:
			c.TransfersOut += e.Volume
		case models.ChildOutflow:
			c.TransfersOut += e.Volume
		case models.Racking:
			c.Losses.Racking += rackingLoss(e)
		case models.Filtering:
			c.Losses.Filtering += e.Loss
		case models.Packaging:
			taken, loss, ambiguous := packagingSplit(e)
			c.PackagedOut += taken
			c.Losses.Packaging += loss
			if ambiguous {
				c.PackagingAmbiguity = true
			}
		case models.Distillation:
			c.Distillation += e.Volume
		case models.Adjustment:
			if e.Delta >= 0 {
				c.PositiveAdjustments += e.Delta
			} else {
				c.Losses.Adjustment += -e.Delta
			}
		case models.Distribution:
			c.Sales += e.Volume
		}
	}
	c.TransferLoss = c.Losses.Transfer

	raw := c.Opening + c.Production + c.PositiveAdjustments + c.TransfersIn -
		c.TransfersOut - c.PackagedOut - c.Losses.Total() - c.Sales - c.Distillation
	if raw < 0 {
		c.IdentityResidual = raw
		c.Ending = 0
	} else {
		c.Ending = raw
	}
	// Clamps inside the opening replay count against the same batch: the
	// ledger failed to explain its state before the window even began.
	c.IdentityResidual += opening.Residual
	c.HasIdentityIssue = c.IdentityResidual < -IdentityTolerance
	if opening.PackagingAmbiguous {
		c.PackagingAmbiguity = true
	}

	return c
}

// Rollup folds classified batch contributions into per-class summaries and a
// grand total. CalculatedEnding seeds from the externally reported opening
// balance; ReconstructedEnding sums the replayed batch endings. The two are
// compared, never blended — variance is a finding for the caller.
func (p *reconciliationProcessorImpl) Rollup(window models.ReconciliationWindow, contributions []models.BatchContribution, cfg *models.TaxClassConfig) ([]models.ClassSummary, models.ClassSummary) {
	byClass := make(map[models.TaxClass]*models.ClassSummary)

	for _, c := range contributions {
		s, ok := byClass[c.TaxClass]
		if !ok {
			s = &models.ClassSummary{TaxClass: c.TaxClass}
			if cfg != nil {
				s.Rate = cfg.Rates[c.TaxClass]
			}
			byClass[c.TaxClass] = s
		}
		s.BatchCount++
		s.Production += c.Production
		s.TransfersIn += c.TransfersIn
		s.TransfersOut += c.TransfersOut
		s.PositiveAdjustments += c.PositiveAdjustments
		s.Losses.Add(c.Losses)
		s.PackagedOut += c.PackagedOut
		s.Sales += c.Sales
		s.Distillation += c.Distillation
		s.ReconstructedEnding += c.Ending
	}

	classes := make([]models.ClassSummary, 0, len(byClass))
	var totals models.ClassSummary
	for class, s := range byClass {
		balance, seeded := window.OpeningBalances[class]
		s.OpeningBalance = balance
		s.OpeningAssumedZero = !seeded
		s.CalculatedEnding = s.OpeningBalance + s.Production + s.PositiveAdjustments +
			s.TransfersIn - s.TransfersOut - s.PackagedOut - s.Losses.Total() -
			s.Sales - s.Distillation
		s.Variance = s.CalculatedEnding - s.ReconstructedEnding
		classes = append(classes, *s)

		totals.BatchCount += s.BatchCount
		totals.OpeningBalance += s.OpeningBalance
		totals.Production += s.Production
		totals.TransfersIn += s.TransfersIn
		totals.TransfersOut += s.TransfersOut
		totals.PositiveAdjustments += s.PositiveAdjustments
		totals.Losses.Add(s.Losses)
		totals.PackagedOut += s.PackagedOut
		totals.Sales += s.Sales
		totals.Distillation += s.Distillation
		totals.CalculatedEnding += s.CalculatedEnding
		totals.ReconstructedEnding += s.ReconstructedEnding
		totals.Variance += s.Variance
	}

	sort.Slice(classes, func(i, j int) bool { return classes[i].TaxClass < classes[j].TaxClass })
	return classes, totals
}
