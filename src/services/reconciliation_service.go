package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/cellarbook/backend/src/database"
	"github.com/username/cellarbook/backend/src/logger"
	"github.com/username/cellarbook/backend/src/model"
	"github.com/username/cellarbook/backend/src/models"
	"github.com/username/cellarbook/backend/src/processors"
)

const (
	ckReconciliation  = "res_reconciliation_user_%d_%d_%d"
	ckCapacityHistory = "res_capacity_history_user_%d_batch_%d"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

type reconciliationServiceImpl struct {
	volume      processors.VolumeProcessor
	classifier  processors.TaxClassifier
	capacity    processors.CapacityProcessor
	aggregator  processors.ReconciliationProcessor
	auditor     processors.AuditProcessor
	balances    BalanceService
	taxConfig   *models.TaxClassConfig // nil degrades to conservative classification
	reportCache *cache.Cache

	emailService EmailService
	notifyEmail  string
}

func NewReconciliationService(
	volume processors.VolumeProcessor,
	classifier processors.TaxClassifier,
	capacity processors.CapacityProcessor,
	aggregator processors.ReconciliationProcessor,
	auditor processors.AuditProcessor,
	balances BalanceService,
	taxConfig *models.TaxClassConfig,
	reportCache *cache.Cache,
	emailService EmailService,
	notifyEmail string,
) ReconciliationService {
	return &reconciliationServiceImpl{
		volume:       volume,
		classifier:   classifier,
		capacity:     capacity,
		aggregator:   aggregator,
		auditor:      auditor,
		balances:     balances,
		taxConfig:    taxConfig,
		reportCache:  reportCache,
		emailService: emailService,
		notifyEmail:  notifyEmail,
	}
}

// fetchUserLedger loads the user's complete batch directory and every volume
// event in a small fixed number of bulk queries, then builds normalized
// per-batch replay streams. The whole directory is fetched (not just the
// eligible set) so parent links and transfer counterparts resolve.
func fetchUserLedger(userID int64) ([]*models.Batch, map[int64][]models.VolumeEvent, error) {
	logger.L.Debug("Fetching ledger from DB", "userID", userID)
	batches, err := model.GetBatchesForUser(database.DB, userID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int64, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	raw, err := model.FetchAllEvents(database.DB, ids)
	if err != nil {
		return nil, nil, err
	}
	streams := processors.BuildEventStreams(batches, raw)
	logger.L.Info("Ledger fetch complete", "userID", userID, "batchCount", len(batches))
	return batches, streams, nil
}

func (s *reconciliationServiceImpl) Reconcile(userID int64, window models.ReconciliationWindow) (*models.ReconciliationReport, error) {
	if window.End.Before(window.Start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidWindow,
			window.End.Format(time.RFC3339), window.Start.Format(time.RFC3339))
	}

	cacheKey := fmt.Sprintf(ckReconciliation, userID, window.Start.Unix(), window.End.Unix())
	if window.OpeningBalances == nil {
		if cached, found := s.reportCache.Get(cacheKey); found {
			logger.L.Info("Cache hit for Reconcile", "userID", userID)
			return cached.(*models.ReconciliationReport), nil
		}
	}

	overallStartTime := time.Now()
	logger.L.Info("Reconcile START", "userID", userID,
		"start", window.Start.Format(time.RFC3339), "end", window.End.Format(time.RFC3339))

	seeded := window.OpeningBalances != nil
	if !seeded {
		balances, err := s.balances.OpeningBalances(userID, window.Start)
		if err != nil {
			// A missing seed degrades to zero balances; the per-class
			// AssumedZero annotation tells the caller which zeros are real.
			logger.L.Warn("Opening balance lookup failed, assuming zero balances", "userID", userID, "error", err)
			balances = map[models.TaxClass]float64{}
		}
		window.OpeningBalances = balances
	}

	batches, streams, err := fetchUserLedger(userID)
	if err != nil {
		return nil, err
	}

	vessels, err := model.GetVesselsForUser(database.DB, userID)
	if err != nil {
		return nil, err
	}

	var eligible []*models.Batch
	for _, b := range batches {
		if b.Eligible(window.End) {
			eligible = append(eligible, b)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	classes := s.classifier.ClassifyAll(eligible, s.taxConfig)

	contributions := make([]models.BatchContribution, 0, len(eligible))
	for _, b := range eligible {
		events := streams[b.ID]
		c := s.aggregator.BatchContribution(b, events, window)
		c.TaxClass = classes[b.ID]

		findings := s.auditor.Audit(b, events, vessels, window.End)
		c.Drift = findings.Drift
		c.HasDriftIssue = findings.HasDriftIssue
		c.HasInitialVolumeAnomaly = findings.HasInitialVolumeAnomaly
		c.ExceedsVesselCapacity = findings.ExceedsVesselCapacity
		c.VesselPeaks = findings.VesselPeaks

		contributions = append(contributions, c)
	}

	perClass, totals := s.aggregator.Rollup(window, contributions, s.taxConfig)

	report := &models.ReconciliationReport{
		Start:         window.Start,
		End:           window.End,
		Totals:        totals,
		PerClass:      perClass,
		PerBatch:      contributions,
		ConfigMissing: s.taxConfig == nil,
	}
	for i := range contributions {
		if contributions[i].AnyAnomaly() {
			report.Discrepancies++
		}
	}

	if !seeded {
		s.reportCache.Set(cacheKey, report, DefaultCacheExpiration)
	}

	if report.Discrepancies > 0 && s.notifyEmail != "" && s.emailService != nil {
		if mailErr := s.emailService.SendReconciliationAlert(s.notifyEmail, report); mailErr != nil {
			logger.L.Error("Failed to send reconciliation alert", "userID", userID, "error", mailErr)
		}
	}

	logger.L.Info("Reconcile END", "userID", userID,
		"batches", len(contributions), "discrepancies", report.Discrepancies,
		"duration", time.Since(overallStartTime))
	return report, nil
}

func (s *reconciliationServiceImpl) VolumeAt(userID, batchID int64, at time.Time) (float64, error) {
	batch, err := model.GetBatchByID(database.DB, userID, batchID)
	if err != nil {
		if err == model.ErrBatchNotFound {
			return 0, fmt.Errorf("%w: id %d", ErrUnknownBatch, batchID)
		}
		return 0, err
	}

	// The full directory is still needed: child batches and transfer
	// counterparts shape this batch's stream.
	_, streams, err := fetchUserLedger(userID)
	if err != nil {
		return 0, err
	}
	return s.volume.VolumeAt(batch, streams[batchID], at), nil
}

func (s *reconciliationServiceImpl) CapacityHistory(userID, batchID int64) ([]models.VesselPeak, error) {
	cacheKey := fmt.Sprintf(ckCapacityHistory, userID, batchID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.([]models.VesselPeak), nil
	}

	batch, err := model.GetBatchByID(database.DB, userID, batchID)
	if err != nil {
		if err == model.ErrBatchNotFound {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownBatch, batchID)
		}
		return nil, err
	}

	_, streams, err := fetchUserLedger(userID)
	if err != nil {
		return nil, err
	}
	vessels, err := model.GetVesselsForUser(database.DB, userID)
	if err != nil {
		return nil, err
	}

	peaks := s.capacity.CapacityHistory(batch, streams[batchID], vessels)
	s.reportCache.Set(cacheKey, peaks, DefaultCacheExpiration)
	return peaks, nil
}

// InvalidateUserCache clears cached reports for a user, forcing a complete
// recomputation on the next request. The write side calls this after any
// ledger mutation.
func (s *reconciliationServiceImpl) InvalidateUserCache(userID int64) {
	prefix := fmt.Sprintf("res_reconciliation_user_%d_", userID)
	capPrefix := fmt.Sprintf("res_capacity_history_user_%d_", userID)
	for key := range s.reportCache.Items() {
		if strings.HasPrefix(key, prefix) || strings.HasPrefix(key, capPrefix) {
			s.reportCache.Delete(key)
		}
	}
	logger.L.Info("Invalidated report caches", "userID", userID)
}
