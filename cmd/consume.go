package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"procodus.dev/busdealer/internal/consumer"
	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/metrics"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Settle every received message with one action until stopped",
	Long: `Run a consumer that receives messages one at a time and settles each with --action.
Every settlement is printed as one JSON line. Stops on SIGINT/SIGTERM or after --limit settlements.`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)

	consumeCmd.Flags().String("action", "complete", "settlement action (complete, abandon, defer, deadletter)")
	consumeCmd.Flags().String("reason", "", "dead-letter reason")
	consumeCmd.Flags().String("description", "", "dead-letter error description")
	consumeCmd.Flags().Int("limit", 0, "stop after this many settlements (0 runs until stopped)")
}

func runConsume(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	action, _ := cmd.Flags().GetString("action")
	reason, _ := cmd.Flags().GetString("reason")
	description, _ := cmd.Flags().GetString("description")
	limit, _ := cmd.Flags().GetInt("limit")

	disposition, err := dealer.ParseDisposition(action, reason, description)
	if err != nil {
		return err
	}

	cfg, err := DealerConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := dealer.Dial[json.RawMessage](ctx, cfg,
		dealer.WithLogger(logger),
		dealer.WithMetrics(metrics.NewDealerMetrics("busdealer", nil)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Error("failed to close dealer client", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	c, err := consumer.NewConsumer(&consumer.Config{
		Logger:      logger,
		Client:      client,
		Disposition: disposition,
		Limit:       limit,
		OnSettled: func(s *dealer.Settlement) {
			if err := printSettlement(out, s); err != nil {
				logger.Error("failed to print settlement", "error", err)
			}
		},
	})
	if err != nil {
		return err
	}

	settled := c.Run(ctx)
	logger.Info("consumer finished", "settled", settled, "failed", c.Failed())
	return nil
}
