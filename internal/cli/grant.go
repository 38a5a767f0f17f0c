package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/credit"
	"github.com/neviso/core/internal/infra/storage/postgres"
)

var (
	grantOwner    int64
	grantAmount   string
	grantSource   string
	grantUrgent   bool
	grantValidFor time.Duration
)

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Issue a credit grant to an owner",
	Run:   runGrant,
}

func init() {
	grantCmd.Flags().Int64Var(&grantOwner, "owner", 0, "owner ID (required)")
	grantCmd.Flags().StringVar(&grantAmount, "amount", "", "credit minutes, e.g. 120.50 (required)")
	grantCmd.Flags().StringVar(&grantSource, "source", "bonus", "grant source: purchase or bonus")
	grantCmd.Flags().BoolVar(&grantUrgent, "urgent", false, "mark the grant high priority")
	grantCmd.Flags().DurationVar(&grantValidFor, "valid-for", 30*24*time.Hour, "time until the grant expires")
	_ = grantCmd.MarkFlagRequired("owner")
	_ = grantCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(grantCmd)
}

func runGrant(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	amount, err := decimal.NewFromString(grantAmount)
	if err != nil {
		slog.Error("Invalid amount", "amount", grantAmount, "error", err)
		os.Exit(1)
	}

	source := domain.GrantSource(grantSource)
	if source != domain.GrantSourcePurchase && source != domain.GrantSourceBonus {
		slog.Error("Invalid source", "source", grantSource)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	ledger := credit.NewLedger(postgres.NewStore(db))
	g, err := ledger.Grant(ctx, grantOwner, amount, source, grantUrgent, time.Now().UTC().Add(grantValidFor))
	if err != nil {
		slog.Error("Failed to issue grant", "error", err)
		os.Exit(1)
	}

	fmt.Printf("granted %s minutes to owner %d (grant %d, expires %s)\n",
		amount, grantOwner, g.ID, g.ExpiresAt.Format(time.RFC3339))
}
