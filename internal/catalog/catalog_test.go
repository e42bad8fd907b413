package catalog

import (
	"context"
	"testing"

	"github.com/banglalekha/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	c := NewStatic(DefaultPackages())

	pkg, err := c.Package(ctx, "best-value")
	require.NoError(t, err)
	assert.Equal(t, int64(1150), pkg.TotalCredits())
	assert.Equal(t, int64(3500), pkg.Price)

	_, err = c.Package(ctx, "gold")
	assert.ErrorIs(t, err, ErrPackageNotFound)

	pkgs, err := c.Packages(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
	assert.Equal(t, []string{"starter", "popular", "best-value"}, []string{pkgs[0].ID, pkgs[1].ID, pkgs[2].ID})
}

func TestStatic_DefaultsCurrency(t *testing.T) {
	c := NewStatic([]models.CreditPackage{{ID: "trial", Credits: 10, Price: 50}})

	pkg, err := c.Package(context.Background(), "trial")
	require.NoError(t, err)
	assert.Equal(t, "BDT", pkg.Currency)
}
