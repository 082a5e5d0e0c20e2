package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/busdealer/internal/publisher"
	"procodus.dev/busdealer/pkg/dealer"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send JSON payloads to the queue",
	Long: `Send JSON payloads to the queue using one of the send modes:
- single: every payload is sent as its own call
- list: all payloads are sent as one message holding a JSON array
- many: one message per payload in a single transport call
- batch: one message per payload in capacity-bounded batches

Payloads come from --data, --file (a JSON array or a single value, "-" for stdin)
or --fake N generated commands.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().String("mode", string(publisher.ModeSingle), "send mode (single, list, many, batch)")
	sendCmd.Flags().String("file", "", `payload file, "-" reads stdin`)
	sendCmd.Flags().String("data", "", "inline JSON payload or array of payloads")
	sendCmd.Flags().Int("fake", 0, "number of generated commands to send")

	_ = viper.BindPFlag("send.mode", sendCmd.Flags().Lookup("mode"))
}

func runSend(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	mode, err := publisher.ParseMode(viper.GetString("send.mode"))
	if err != nil {
		return err
	}

	fake, _ := cmd.Flags().GetInt("fake")
	data, _ := cmd.Flags().GetString("data")
	file, _ := cmd.Flags().GetString("file")
	payloads, err := loadPayloads(fake, data, file, cmd.InOrStdin())
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

	if err := sendPayloads(ctx, client, mode, payloads); err != nil {
		return err
	}

	logger.Info("payloads sent", "mode", string(mode), "payload_count", len(payloads))
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d payload(s) in %s mode\n", len(payloads), mode)
	return nil
}

func sendPayloads(ctx context.Context, client dealer.ClientInterface[json.RawMessage], mode publisher.Mode, payloads []json.RawMessage) error {
	switch mode {
	case publisher.ModeList:
		return client.SendListAsMessage(ctx, payloads)
	case publisher.ModeMany:
		return client.SendMessages(ctx, payloads)
	case publisher.ModeBatch:
		return client.SendBatchOfMessages(ctx, payloads)
	default:
		for _, p := range payloads {
			if err := client.SendMessage(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}
}
