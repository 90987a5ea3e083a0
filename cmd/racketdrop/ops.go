package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/racketdrop/internal/config"
	"github.com/dharsanguruparan/racketdrop/internal/database"
	"github.com/dharsanguruparan/racketdrop/internal/intake"
	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
	"github.com/dharsanguruparan/racketdrop/internal/s3storage"
	"github.com/dharsanguruparan/racketdrop/internal/status"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <item-id>",
		Short: "Print the status view of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(_ *config.Config, repo *repository.Postgres) error {
				view, err := status.NewService(repo).Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func newOrphansCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List items stuck in submitted because their job was never queued",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd.Context(), func(cfg *config.Config, repo *repository.Postgres) error {
				threshold := olderThan
				if threshold <= 0 {
					threshold = cfg.Worker.OrphanThreshold
				}
				cutoff := time.Now().UTC().Add(-threshold)
				items, err := repo.ListStale(cmd.Context(), model.StateSubmitted, cutoff, limit)
				if err != nil {
					return err
				}
				return writeOrphans(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum age of an orphan (defaults to worker.orphan_threshold)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of items to list")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var sub intake.Submission
	var view string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit already stored media for analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub.ViewAngle = model.ViewAngle(view)
			return withRepo(cmd.Context(), func(cfg *config.Config, repo *repository.Postgres) error {
				store, err := s3storage.New(cfg.Storage)
				if err != nil {
					return err
				}
				broker := queue.NewBroker(queue.RedisOpt(cfg.Redis), cfg.Queue)
				defer broker.Close()

				receipt, err := intake.NewService(repo, broker, intake.WithMediaChecker(store)).Submit(cmd.Context(), sub)
				if err != nil {
					if receipt.ItemID != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), "item %s left %s\n", receipt.ItemID, receipt.State)
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), receipt)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&sub.MediaRef, "media", "", "Stored media reference (object key)")
	f.StringVar(&sub.Category, "category", "", "Sport the clip belongs to")
	f.StringVar((*string)(&sub.SubClassification), "stroke", "", "Stroke: forehand or backhand")
	f.StringVar((*string)(&sub.Orientation), "handedness", "", "Handedness: right or left")
	f.StringVar(&view, "view", "", "Optional camera view: side or front")
	_ = cmd.MarkFlagRequired("media")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("stroke")
	_ = cmd.MarkFlagRequired("handedness")
	return cmd
}

func withRepo(ctx context.Context, fn func(*config.Config, *repository.Postgres) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(cfg, repository.NewPostgres(pool))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOrphans(w io.Writer, items []model.Item) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "no orphaned items")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tCREATED\tMEDIA")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ID, item.CreatedAt.Format(time.RFC3339), item.MediaRef)
	}
	return tw.Flush()
}
