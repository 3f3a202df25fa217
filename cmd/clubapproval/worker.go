package main

import (
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/noah-isme/club-approval-api/pkg/notify"
)

func newNotifyWorkerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "notify-worker",
		Short: "Consume approval events and log them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			queue := cfg.Notify.Queue
			if queue == "" {
				queue = "notifications"
			}
			server := asynq.NewServer(redisOpt(cfg.Redis), asynq.Config{
				Concurrency: concurrency,
				Queues:      map[string]int{queue: 1},
			})
			mux := asynq.NewServeMux()
			mux.Handle(notify.TaskTypeApprovalEvent, notify.NewHandler(notify.LogSink(logr)))

			go func() {
				<-cmd.Context().Done()
				server.Shutdown()
			}()
			logr.Sugar().Infow("notify worker starting", "queue", queue)
			return server.Run(mux)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Concurrent task handlers")
	return cmd
}
