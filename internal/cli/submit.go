package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/credit"
	redisclient "github.com/neviso/core/internal/infra/redis"
	"github.com/neviso/core/internal/infra/storage/postgres"
	"github.com/neviso/core/internal/queue"
)

var (
	submitOwner    int64
	submitKind     string
	submitURI      string
	submitDuration float64
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Enqueue a processing job for an artifact",
	Run:   runSubmit,
}

func init() {
	submitCmd.Flags().Int64Var(&submitOwner, "owner", 0, "owner ID (required)")
	submitCmd.Flags().StringVar(&submitKind, "kind", "audio", "artifact kind: audio, video or image")
	submitCmd.Flags().StringVar(&submitURI, "uri", "", "artifact URI (required)")
	submitCmd.Flags().Float64Var(&submitDuration, "duration", 0, "artifact duration in seconds (audio/video)")
	_ = submitCmd.MarkFlagRequired("owner")
	_ = submitCmd.MarkFlagRequired("uri")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()
	store := postgres.NewStore(db)

	var board queue.Board
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		board = client
	} else {
		slog.Error("Submitting requires a shared ranking board; set redis.url")
		os.Exit(1)
	}

	artifact := &domain.ArtifactRef{
		Kind:      domain.ArtifactKind(submitKind),
		URI:       submitURI,
		DurationS: submitDuration,
	}
	cost, err := credit.NewEstimator(decimal.RequireFromString(cfg.Credits.ImageCost)).
		Estimate([]*domain.ArtifactRef{artifact})
	if err != nil {
		slog.Error("Cannot price artifact", "error", err)
		os.Exit(1)
	}

	controller := queue.NewController(queue.Config{
		Capacity:     cfg.Queue.Capacity,
		RatePerMin:   cfg.Queue.RatePerMinute,
		RatePerDay:   cfg.Queue.RatePerDay,
		MaxRetries:   cfg.Queue.MaxRetries,
		StaleTimeout: cfg.Queue.StaleTimeout.Std(),
	}, store, board)

	jobID := uuid.NewString()
	job, err := controller.Enqueue(ctx, jobID, submitOwner, cost)
	if err != nil {
		slog.Error("Failed to enqueue", "error", err)
		os.Exit(1)
	}
	artifact.JobID = jobID
	if err := store.Jobs().AddArtifact(ctx, artifact); err != nil {
		slog.Error("Failed to attach artifact", "error", err)
		os.Exit(1)
	}

	pos, err := controller.Position(ctx, jobID)
	if err != nil {
		pos = -1
	}
	fmt.Printf("enqueued %s (priority %d, estimated %s minutes, position %d)\n",
		job.ID, job.Priority, cost, pos)
}
