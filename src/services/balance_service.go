package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/username/cellarbook/backend/src/database"
	"github.com/username/cellarbook/backend/src/logger"
	"github.com/username/cellarbook/backend/src/model"
	"github.com/username/cellarbook/backend/src/models"
	"golang.org/x/net/publicsuffix"
)

// portalBalanceResponse mirrors the regulator portal's closing-balance export.
type portalBalanceResponse struct {
	Balances []struct {
		TaxClass string  `json:"tax_class"`
		Liters   float64 `json:"liters"`
	} `json:"balances"`
	PeriodEnd string `json:"period_end"`
}

// balanceServiceImpl resolves opening balances for a reconciliation window.
// Locally finalized periods win; the regulator portal is an optional fallback
// for users who filed previous periods outside this system.
type balanceServiceImpl struct {
	httpClient http.Client
	baseURL    string // empty disables the portal fallback
}

// NewBalanceService creates the balance service. The HTTP client carries a
// cookie jar because the portal keeps its session in cookies.
func NewBalanceService(baseURL string) BalanceService {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	return &balanceServiceImpl{
		httpClient: http.Client{
			Jar:     jar,
			Timeout: 20 * time.Second,
		},
		baseURL: baseURL,
	}
}

// OpeningBalances returns the per-class liters carried into the period that
// starts at asOf. A finalized period recorded locally at exactly that instant
// is authoritative; otherwise the portal is consulted when configured. Neither
// source having data is not an error — the caller assumes zero and annotates.
func (s *balanceServiceImpl) OpeningBalances(userID int64, asOf time.Time) (map[models.TaxClass]float64, error) {
	balances, err := model.GetFinalizedBalances(database.DB, userID, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBalanceFetch, err)
	}
	if len(balances) > 0 {
		logger.L.Debug("Opening balances from finalized period", "userID", userID, "classes", len(balances))
		return balances, nil
	}

	if s.baseURL == "" {
		return map[models.TaxClass]float64{}, nil
	}

	portal, err := s.fetchPortalBalances(asOf)
	if err != nil {
		logger.L.Warn("Portal balance fetch failed", "userID", userID, "error", err)
		return map[models.TaxClass]float64{}, nil
	}
	return portal, nil
}

func (s *balanceServiceImpl) fetchPortalBalances(asOf time.Time) (map[models.TaxClass]float64, error) {
	url := fmt.Sprintf("%s/balances?period_end=%s", s.baseURL, asOf.Format("2006-01-02"))
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call balance portal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("balance portal returned non-OK status %d", resp.StatusCode)
	}

	var data portalBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode balance portal response: %w", err)
	}

	out := make(map[models.TaxClass]float64, len(data.Balances))
	for _, b := range data.Balances {
		out[models.TaxClass(b.TaxClass)] = b.Liters
	}
	logger.L.Info("Opening balances from portal", "classes", len(out), "periodEnd", data.PeriodEnd)
	return out, nil
}
