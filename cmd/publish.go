package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/busdealer/internal/publisher"
	"procodus.dev/busdealer/pkg/dealer"
	"procodus.dev/busdealer/pkg/metrics"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Run concurrent producers of generated commands",
	Long: `Run the publisher that:
- Generates synthetic commands
- Publishes them to the queue with the selected send mode
- Supports multiple concurrent producers
- Exposes Prometheus metrics on --metrics-addr`,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)

	// Publisher-specific flags
	publishCmd.Flags().String("mode", string(publisher.ModeSingle), "send mode (single, list, many, batch)")
	publishCmd.Flags().Int("batch-size", 10, "commands per round for list, many and batch modes")
	publishCmd.Flags().Int("producer-count", 5, "Number of concurrent producers")
	publishCmd.Flags().Duration("interval", 5*time.Second, "Interval between publish rounds")
	publishCmd.Flags().String("metrics-addr", ":9090", "metrics listen address (empty disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("publisher.mode", publishCmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("publisher.batch_size", publishCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("publisher.producer_count", publishCmd.Flags().Lookup("producer-count"))
	_ = viper.BindPFlag("publisher.interval", publishCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("publisher.metrics_addr", publishCmd.Flags().Lookup("metrics-addr"))
}

func runPublish(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting publisher service")

	dealerCfg, err := DealerConfig()
	if err != nil {
		return err
	}

	dealerMetrics := metrics.NewDealerMetrics("busdealer", nil)
	publisherMetrics := metrics.NewPublisherMetrics("busdealer", nil)

	// Create publisher configuration from viper
	config := &publisher.ServerConfig{
		Logger:        logger,
		ClientFactory: publisher.DialFactory(dealerCfg, dealer.WithLogger(logger), dealer.WithMetrics(dealerMetrics)),
		Mode:          publisher.Mode(viper.GetString("publisher.mode")),
		BatchSize:     viper.GetInt("publisher.batch_size"),
		Interval:      viper.GetDuration("publisher.interval"),
		ProducerCount: viper.GetInt("publisher.producer_count"),
		Metrics:       publisherMetrics,
	}

	ctx := cmd.Context()
	server, err := publisher.NewServer(ctx, config)
	if err != nil {
		logger.Error("failed to create publisher server", "error", err)
		return err
	}

	logger.Info("publisher server configuration",
		"backend", string(dealerCfg.Backend),
		"queue", dealerCfg.QueueName,
		"mode", string(config.Mode),
		"batch_size", config.BatchSize,
		"producer_count", config.ProducerCount,
		"interval", config.Interval,
	)

	if addr := viper.GetString("publisher.metrics_addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("publisher server error", "error", err)
		return err
	}

	logger.Info("publisher server stopped")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
