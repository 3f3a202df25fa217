package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/club-approval-api/internal/repository"
	"github.com/noah-isme/club-approval-api/internal/service"
	"github.com/noah-isme/club-approval-api/pkg/database"
	"github.com/noah-isme/club-approval-api/pkg/storage"
)

func newPurgeCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete applications created before a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := time.Parse("2006-01-02", before)
			if err != nil {
				return fmt.Errorf("--before must be YYYY-MM-DD: %w", err)
			}
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			ctx := cmd.Context()
			db, err := database.NewPostgres(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			blobs, err := storage.New(ctx, cfg.Storage, "")
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}

			repo := repository.NewApplicationRepository(db, repository.NewHistoryRepository(db))
			report, err := service.NewPurgeService(repo, blobs, nil, logr).Purge(ctx, cutoff)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Cutoff date (YYYY-MM-DD); older applications are removed")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}
