// Package main provides the busdealer CLI.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/busdealer/pkg/dealer"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "busdealer",
		Short: "Typed client for managed message queues",
		Long: `busdealer sends JSON payloads to a managed queue and settles received messages.
Supported backends: servicebus (default), sqs, rabbitmq.

- send: send payloads as single, list, many or batch messages
- receive: print a bounded set of message bodies without settling them
- handle: receive one message and complete, abandon, defer or dead-letter it
- consume: settle messages continuously with one disposition until stopped or a limit is reached
- publish: run concurrent producers pushing generated commands`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/busdealer/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("backend", string(dealer.BackendServiceBus), "queue backend (servicebus, sqs, rabbitmq)")
	flags.String("connection-string", "", "backend connection string")
	flags.String("queue", "", "queue name")
	flags.Duration("receive-wait", dealer.DefaultReceiveWait, "default wait ceiling for receive")
	flags.Duration("handle-wait", dealer.DefaultHandleWait, "wait ceiling for handle")

	// Bind flags to viper
	bindings := map[string]string{
		"log.level":                "log-level",
		"log.format":               "log-format",
		"dealer.backend":           "backend",
		"dealer.connection_string": "connection-string",
		"dealer.queue_name":        "queue",
		"dealer.receive_wait":      "receive-wait",
		"dealer.handle_wait":       "handle-wait",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			log.Fatalf("failed to bind %s flag: %v", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Log config file being used
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// commandTimeout bounds one-shot commands so a stuck link cannot hang the CLI.
func commandTimeout() time.Duration {
	return max(viper.GetDuration("dealer.receive_wait"), viper.GetDuration("dealer.handle_wait")) + 30*time.Second
}
