package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hkust-spark/sparkrtc/clock"
	"github.com/hkust-spark/sparkrtc/internal/metrics"
	"github.com/hkust-spark/sparkrtc/receiver"
	"github.com/hkust-spark/sparkrtc/transport"
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "run the receive side: DATA/FEC packets in, frames and feedback out",
	RunE:  runReceiver,
}

func init() {
	f := receiverCmd.Flags()
	f.String("listen", ":9200", "local UDP address to bind")
	f.String("peer", "", "remote UDP address (host:port) feedback is sent to")
	f.Duration("delay-ddl", 200*time.Millisecond, "per-frame delay deadline used to time out incomplete groups")
	f.Duration("feedback-interval", 16*time.Millisecond, "NetStatePacket emission period")
	f.Duration("recv-window", 500*time.Millisecond, "throughput/loss-rate feedback window")
	_ = viper.BindPFlags(f)
}

func runReceiver(cmd *cobra.Command, args []string) error {
	_ = viper.BindPFlags(cmd.Flags())
	logger := newLogger()
	startMetrics(logger)

	cfg := receiver.DefaultConfig()
	cfg.DelayDDL = viper.GetDuration("delay-ddl")
	cfg.FeedbackInterval = viper.GetDuration("feedback-interval")
	cfg.RecvWindow = viper.GetDuration("recv-window")

	conn, err := transport.Listen(viper.GetString("listen"), logger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()
	if peer := viper.GetString("peer"); peer != "" {
		if err := conn.ResolvePeer(peer); err != nil {
			return fmt.Errorf("resolve peer: %w", err)
		}
	}

	r := receiver.New(cfg, clock.Real{}, logger, func(p interface{}) { _ = conn.Send(p) })

	go func() {
		if err := conn.Serve(func(p interface{}, from net.Addr) {
			r.Deliver(p)
		}); err != nil {
			logger.WithError(err).Warn("receiver: connection closed")
		}
	}()

	go reportReceiverMetrics(r)

	logger.WithField("listen", conn.LocalAddr().String()).Info("receiver up")
	r.Run()
	return nil
}

func reportReceiverMetrics(r *receiver.Receiver) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.DeadlineMissRate.Set(r.Decoder().DeadlineMissRate())
	}
}
