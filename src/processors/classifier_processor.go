package processors

import (
	"strings"

	"github.com/username/cellarbook/backend/src/models"
)

// taxClassifierImpl implements the TaxClassifier interface.
type taxClassifierImpl struct{}

// NewTaxClassifier creates a new instance of TaxClassifier.
func NewTaxClassifier() TaxClassifier {
	return &taxClassifierImpl{}
}

// Classify maps a batch's attributes plus a config to a tax class. The
// function is pure: it never mutates the batch, and only the carbonation
// value matters, not when it was measured.
//
// Raw juice is exempt: unfermented product sits outside tax-class scope.
// Distilled product is classified on its own track and never runs through
// the fermented-beverage thresholds. Everything else splits still vs
// sparkling/carbonated on CO2, then the still branch picks a tier by ABV,
// with the preferential hard-cider rate gated on raw-material source.
//
// A nil config degrades to the general low-ABV wine class — the most
// conservative answer, claiming no preferential rate. Callers annotate the
// report so "conservative default" is distinguishable from a real lookup.
func (c *taxClassifierImpl) Classify(batch *models.Batch, cfg *models.TaxClassConfig) models.TaxClass {
	switch batch.ProductCategory {
	case models.ProductJuice:
		return models.TaxClassExempt
	case models.ProductBrandy:
		return models.TaxClassSpirits
	}

	if cfg == nil {
		return models.TaxClassWineLowABV
	}

	if batch.CO2Volumes > cfg.StillMaxCO2 {
		if batch.CarbonationMethod == models.CarbonationInjected {
			return models.TaxClassCarbonatedWine
		}
		return models.TaxClassSparklingWine
	}

	if batch.ABV <= cfg.HardCiderMaxABV && batch.CO2Volumes <= cfg.HardCiderMaxCO2 &&
		materialAllowed(batch.RawMaterial, cfg.HardCiderMaterials) {
		return models.TaxClassHardCider
	}

	if batch.ABV <= cfg.LowABVMax {
		return models.TaxClassWineLowABV
	}
	if batch.ABV <= cfg.HighABVMax {
		return models.TaxClassWineHighABV
	}
	// Above the high band only distilled product exists.
	return models.TaxClassSpirits
}

// ClassifyAll builds the batch→class map once per query.
func (c *taxClassifierImpl) ClassifyAll(batches []*models.Batch, cfg *models.TaxClassConfig) map[int64]models.TaxClass {
	classes := make(map[int64]models.TaxClass, len(batches))
	for _, b := range batches {
		classes[b.ID] = c.Classify(b, cfg)
	}
	return classes
}

func materialAllowed(material string, allowed []string) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, material) {
			return true
		}
	}
	return false
}
