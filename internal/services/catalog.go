package services

import (
	"github.com/headlinehero/backend/internal/models"
)

// creditPackages is the static purchase catalog. Prices are in the smallest
// currency unit and must stay unique: the webhook resolves packages by
// exact price equality.
var creditPackages = []models.CreditPackage{
	{
		ID:              "basic",
		Name:            "Basic",
		Credits:         100,
		PriceMinorUnits: 999,
		Description:     "Perfect for getting started",
	},
	{
		ID:              "pro",
		Name:            "Pro",
		Credits:         500,
		PriceMinorUnits: 3999,
		Description:     "Most popular choice",
	},
	{
		ID:              "enterprise",
		Name:            "Enterprise",
		Credits:         2000,
		PriceMinorUnits: 14999,
		Description:     "For power users",
	},
}

// CreditPackages returns the catalog.
func CreditPackages() []models.CreditPackage {
	return creditPackages
}

// ResolvePackage finds the package whose price exactly equals the paid
// amount. No nearest-match: a mismatched amount must never credit a
// package.
func ResolvePackage(amountMinor int64) (*models.CreditPackage, bool) {
	for i := range creditPackages {
		if creditPackages[i].PriceMinorUnits == amountMinor {
			return &creditPackages[i], true
		}
	}
	return nil, false
}
