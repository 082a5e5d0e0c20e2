package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"procodus.dev/busdealer/pkg/dealer"
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Print up to --max message bodies without settling them",
	RunE:  runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().Int("max", 10, "maximum number of messages to receive")
	receiveCmd.Flags().Duration("wait", 0, "wait ceiling (defaults to --receive-wait)")
}

func runReceive(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	maxCount, _ := cmd.Flags().GetInt("max")
	wait, _ := cmd.Flags().GetDuration("wait")

	cfg, err := DealerConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout()+wait)
	defer cancel()

	client, err := dealer.Dial[json.RawMessage](ctx, cfg, dealer.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Error("failed to close dealer client", "error", err)
		}
	}()

	bodies, err := client.ReceiveBatch(ctx, maxCount, wait)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, body := range bodies {
		fmt.Fprintln(out, body)
	}
	logger.Info("messages received", "message_count", len(bodies))
	return nil
}
