package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"procodus.dev/busdealer/pkg/dealer"
)

var handleCmd = &cobra.Command{
	Use:   "handle",
	Short: "Receive one message and settle it",
	Long: `Receive one message and settle it with --action:
- complete: remove the message from the queue
- abandon: release it for redelivery
- defer: set it aside until fetched by sequence number
- deadletter: move it to the dead-letter queue (needs --reason and --description)

With --sequence the deferred message with that sequence number is fetched instead (Service Bus only).`,
	RunE: runHandle,
}

func init() {
	rootCmd.AddCommand(handleCmd)

	handleCmd.Flags().String("action", "complete", "settlement action (complete, abandon, defer, deadletter)")
	handleCmd.Flags().String("reason", "", "dead-letter reason")
	handleCmd.Flags().String("description", "", "dead-letter error description")
	handleCmd.Flags().Int64("sequence", 0, "sequence number of a deferred message to settle")
}

func runHandle(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	action, _ := cmd.Flags().GetString("action")
	reason, _ := cmd.Flags().GetString("reason")
	description, _ := cmd.Flags().GetString("description")
	sequence, _ := cmd.Flags().GetInt64("sequence")

	disposition, err := dealer.ParseDisposition(action, reason, description)
	if err != nil {
		return err
	}

	cfg, err := DealerConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout())
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

	settlement, err := handleOne(ctx, client, sequence, disposition)
	if err != nil {
		return err
	}

	return printSettlement(cmd.OutOrStdout(), settlement)
}

// handleOne settles the deferred message with sequence when it is set,
// the next message otherwise.
func handleOne(ctx context.Context, client dealer.ClientInterface[json.RawMessage], sequence int64, d dealer.Disposition) (*dealer.Settlement, error) {
	if sequence > 0 {
		return client.HandleDeferredMessage(ctx, sequence, d)
	}
	return client.HandleMessage(ctx, d)
}

type settlementOutput struct {
	MessageID      string `json:"message_id"`
	SequenceNumber int64  `json:"sequence_number"`
	DeliveryCount  uint32 `json:"delivery_count"`
	Action         string `json:"action"`
	Body           string `json:"body"`
}

// printSettlement writes s as one JSON line, or a notice when nothing was settled.
func printSettlement(w io.Writer, s *dealer.Settlement) error {
	if s == nil {
		_, err := fmt.Fprintln(w, "no message settled")
		return err
	}

	return json.NewEncoder(w).Encode(settlementOutput{
		MessageID:      s.MessageID,
		SequenceNumber: s.SequenceNumber,
		DeliveryCount:  s.DeliveryCount,
		Action:         s.Action.String(),
		Body:           s.Body,
	})
}
