package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/banglalekha/backend/internal/models"
)

var ErrPackageNotFound = errors.New("catalog: package not found")

// DefaultCurrency is used for packages that do not name one.
const DefaultCurrency = "BDT"

// Catalog is a read-only lookup of purchasable credit packages.
type Catalog interface {
	Package(ctx context.Context, id string) (*models.CreditPackage, error)
	Packages(ctx context.Context) ([]models.CreditPackage, error)
}

// DefaultPackages mirrors the packages offered on the purchase page.
func DefaultPackages() []models.CreditPackage {
	return []models.CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 100, Price: 500, Currency: "BDT"},
		{ID: "popular", Name: "Popular", Credits: 500, Bonus: 50, Price: 2000, Currency: "BDT", IsPopular: true},
		{ID: "best-value", Name: "Best Value", Credits: 1000, Bonus: 150, Price: 3500, Currency: "BDT"},
	}
}

// Static serves a fixed, configuration-defined set of packages.
type Static struct {
	packages map[string]models.CreditPackage
}

func NewStatic(packages []models.CreditPackage) *Static {
	m := make(map[string]models.CreditPackage, len(packages))
	for _, p := range packages {
		if p.Currency == "" {
			p.Currency = DefaultCurrency
		}
		m[p.ID] = p
	}
	return &Static{packages: m}
}

func (s *Static) Package(_ context.Context, id string) (*models.CreditPackage, error) {
	p, ok := s.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return &p, nil
}

func (s *Static) Packages(_ context.Context) ([]models.CreditPackage, error) {
	result := make([]models.CreditPackage, 0, len(s.packages))
	for _, p := range s.packages {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Price < result[j].Price })
	return result, nil
}
