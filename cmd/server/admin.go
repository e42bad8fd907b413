package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/banglalekha/backend/internal/cache"
	"github.com/banglalekha/backend/internal/config"
	"github.com/banglalekha/backend/internal/database"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and seed the package catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("migrations complete")
		return nil
	},
}

var (
	grantKey    string
	grantReason string
)

var grantCmd = &cobra.Command{
	Use:   "grant ACCOUNT AMOUNT",
	Short: "Record a manual adjustment (positive or negative)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		key := grantKey
		if key == "" {
			key = "adjustment:" + ulid.Make().String()
		}
		res, err := adminEngine(cmd, cfg, b).Apply(cmd.Context(), ledger.ApplyRequest{
			AccountID:      args[0],
			Amount:         amount,
			Kind:           models.KindAdjustment,
			ExternalRef:    grantReason,
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}
		fmt.Printf("account=%s balance=%d key=%s replayed=%t\n", args[0], res.BalanceAfter, key, res.Replayed)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify ACCOUNT...",
	Short: "Check that balances match the sum of their ledger entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		engine := ledger.NewEngine(b.store)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		failed := 0
		for _, accountID := range args {
			report, err := engine.Verify(cmd.Context(), accountID)
			if err != nil {
				return fmt.Errorf("verify %s: %w", accountID, err)
			}
			if !report.OK() {
				failed++
			}
			enc.Encode(report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d accounts failed verification", failed, len(args))
		}
		return nil
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate ACCOUNT",
	Short: "Stop purchases and usage for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		return adminEngine(cmd, cfg, b).DeactivateAccount(cmd.Context(), args[0])
	},
}

// adminEngine shares the server's Redis balance cache when reachable so that
// manual changes are not hidden behind cached balances.
func adminEngine(cmd *cobra.Command, cfg *config.Config, b *backend) *ledger.Engine {
	opts := []ledger.Option{ledger.WithConflictRetries(cfg.Ledger.ConflictRetries)}
	if client := database.InitRedis(cmd.Context(), cfg.Redis); client != nil {
		cmd.PostRun = func(*cobra.Command, []string) { client.Close() }
		opts = append(opts, ledger.WithCache(cache.NewRedisBalanceCache(client, cfg.Ledger.CacheTTL)))
	}
	return ledger.NewEngine(b.store, opts...)
}

func init() {
	grantCmd.Flags().StringVar(&grantKey, "key", "", "idempotency key (default: generated)")
	grantCmd.Flags().StringVar(&grantReason, "reason", "manual_adjustment", "reference stored with the entry")
}
