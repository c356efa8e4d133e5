// Command sparkrtc runs either side of a deadline-aware FEC+RTX media
// transport over UDP: a sender subcommand that paces frames out with
// adaptive forward error correction, and a receiver subcommand that
// reassembles them and feeds loss/RTT telemetry back.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hkust-spark/sparkrtc/internal/metrics"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string
)

// RootCmd is the main command for the sparkrtc binary.
var RootCmd = &cobra.Command{
	Use:   "sparkrtc",
	Short: "deadline-aware FEC/RTX media transport",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json/toml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9110)")

	RootCmd.AddCommand(senderCmd)
	RootCmd.AddCommand(receiverCmd)
}

func initConfig() error {
	viper.SetEnvPrefix("sparkrtc")
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// startMetrics registers the transport's Prometheus metrics and, if
// metrics-addr is set, serves them over HTTP in a background goroutine.
func startMetrics(logger log.Interface) {
	reg := prometheus.DefaultRegisterer
	metrics.MustRegister(reg)
	if metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
}

func newLogger() log.Interface {
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	return log.Log
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
