package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/models"
)

const packageColumns = `id, name, credits, bonus, price, currency, description, is_popular`

// Catalog reads credit packages from the credit_packages table.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Package(ctx context.Context, id string) (*models.CreditPackage, error) {
	var p models.CreditPackage
	err := c.db.QueryRowContext(ctx, `
		SELECT `+packageColumns+`
		FROM credit_packages
		WHERE id = $1 AND active`, id).
		Scan(&p.ID, &p.Name, &p.Credits, &p.Bonus, &p.Price, &p.Currency, &p.Description, &p.IsPopular)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrPackageNotFound
	}
	if err != nil {
		return nil, classify("get package", err)
	}
	return &p, nil
}

func (c *Catalog) Packages(ctx context.Context) ([]models.CreditPackage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+packageColumns+`
		FROM credit_packages
		WHERE active
		ORDER BY price ASC`)
	if err != nil {
		return nil, classify("list packages", err)
	}
	defer rows.Close()

	packages := []models.CreditPackage{}
	for rows.Next() {
		var p models.CreditPackage
		if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.Bonus, &p.Price, &p.Currency, &p.Description, &p.IsPopular); err != nil {
			return nil, classify("scan package", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// SeedPackages inserts or refreshes packages, used by the migrate command.
func (c *Catalog) SeedPackages(ctx context.Context, packages []models.CreditPackage) error {
	for _, p := range packages {
		if _, err := c.db.ExecContext(ctx, `
			INSERT INTO credit_packages (`+packageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, credits = EXCLUDED.credits, bonus = EXCLUDED.bonus,
			    price = EXCLUDED.price, currency = EXCLUDED.currency,
			    description = EXCLUDED.description, is_popular = EXCLUDED.is_popular,
			    updated_at = NOW()`,
			p.ID, p.Name, p.Credits, p.Bonus, p.Price, p.Currency, p.Description, p.IsPopular); err != nil {
			return classify("seed package", err)
		}
	}
	return nil
}
