package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var packageCols = []string{"id", "name", "credits", "bonus", "price", "currency", "description", "is_popular"}

func TestCatalog_Package(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewCatalog(db)

	mock.ExpectQuery("SELECT id, name, credits, bonus, price, currency, description, is_popular FROM credit_packages WHERE id = \\$1 AND active").
		WithArgs("popular").
		WillReturnRows(sqlmock.NewRows(packageCols).AddRow("popular", "Popular", 500, 50, 2000, "BDT", "", true))

	pkg, err := c.Package(context.Background(), "popular")
	require.NoError(t, err)
	assert.Equal(t, int64(550), pkg.TotalCredits())
	assert.True(t, pkg.IsPopular)

	mock.ExpectQuery("FROM credit_packages WHERE id = \\$1 AND active").
		WithArgs("gold").
		WillReturnRows(sqlmock.NewRows(packageCols))

	_, err = c.Package(context.Background(), "gold")
	assert.ErrorIs(t, err, catalog.ErrPackageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_PackagesAndSeed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	c := NewCatalog(db)

	mock.ExpectQuery("FROM credit_packages WHERE active ORDER BY price ASC").
		WillReturnRows(sqlmock.NewRows(packageCols).
			AddRow("starter", "Starter", 100, 0, 500, "BDT", "", false).
			AddRow("best-value", "Best Value", 1000, 150, 3500, "BDT", "", false))

	pkgs, err := c.Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "starter", pkgs[0].ID)

	seed := []models.CreditPackage{{ID: "starter", Name: "Starter", Credits: 100, Price: 500, Currency: "BDT"}}
	mock.ExpectExec("INSERT INTO credit_packages .* ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("starter", "Starter", 100, 0, 500, "BDT", "", false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, c.SeedPackages(context.Background(), seed))
	assert.NoError(t, mock.ExpectationsWereMet())
}
