package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hkust-spark/sparkrtc/clock"
	"github.com/hkust-spark/sparkrtc/fecpolicy"
	"github.com/hkust-spark/sparkrtc/internal/metrics"
	"github.com/hkust-spark/sparkrtc/sender"
	"github.com/hkust-spark/sparkrtc/transport"
)

var senderCmd = &cobra.Command{
	Use:   "sender",
	Short: "run the send side: frame in, paced DATA/FEC packets out",
	RunE:  runSender,
}

func init() {
	f := senderCmd.Flags()
	f.String("listen", ":9100", "local UDP address to bind")
	f.String("peer", "", "remote UDP address (host:port) to send to")
	f.Duration("delay-ddl", 200*time.Millisecond, "per-frame delay deadline")
	f.Int("max-group-size", 16, "maximum data packets per FEC group")
	f.Int("max-payload", 1200, "maximum payload bytes per packet")
	f.Float64("bitrate-bps", 2_000_000, "encoder target bitrate in bits/sec")
	f.Float64("fps", 30, "encoder frame rate")
	f.Bool("cca-enable", false, "enable congestion-controller admission quota")
	f.Float64("cca-target-bps", 0, "congestion-controller target bitrate in bits/sec")
	f.String("fec-policy", "fixed", "fec/rtx policy: fixed, fixed-rtx, rtx-only, pto-only, token-rtx, bolot, usf, webrtc, webrtc-adaptive, webrtc-star")
	f.Float64("fixed-rate", 0.25, "fec rate used by the fixed/fixed-rtx policies")
	f.Float64("max-fec-rate", 1.0, "clamp applied to every policy's decided fec rate")
	f.Int("star-order", int(fecpolicy.OrderSqrt), "webrtc-star deadline multiplier: 0=sqrt, 1=linear, 2=quadratic")
	f.Float64("star-coeff", 1.0, "webrtc-star linear-order coefficient (only used when star-order=1)")
	_ = viper.BindPFlags(f)
}

func runSender(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	startMetrics(logger)

	cfg := sender.DefaultConfig()
	cfg.DelayDDL = viper.GetDuration("delay-ddl")
	cfg.MaxGroupSize = viper.GetInt("max-group-size")
	cfg.MaxPayload = viper.GetInt("max-payload")
	cfg.BitrateBps = viper.GetFloat64("bitrate-bps")
	cfg.FPS = viper.GetFloat64("fps")
	cfg.CCAEnable = viper.GetBool("cca-enable")
	cfg.CCATargetBps = viper.GetFloat64("cca-target-bps")

	policy, err := buildPolicy(viper.GetString("fec-policy"), viper.GetFloat64("fixed-rate"), cfg.MaxGroupSize,
		fecpolicy.WebRTCStarOrder(viper.GetInt("star-order")), viper.GetFloat64("star-coeff"))
	if err != nil {
		return err
	}
	wrapped := fecpolicy.NewWrapper(policy)
	wrapped.MaxFECRate = viper.GetFloat64("max-fec-rate")

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

	s := sender.New(cfg, clock.Real{}, logger, wrapped)

	go func() {
		if err := conn.Serve(func(p interface{}, from net.Addr) {
			s.Deliver(p)
		}); err != nil {
			logger.WithError(err).Warn("sender: connection closed")
		}
	}()

	go reportSenderMetrics(s)

	logger.WithField("listen", conn.LocalAddr().String()).Info("sender up")
	s.Run(func(p interface{}) { _ = conn.Send(p) })
	return nil
}

func reportSenderMetrics(s *sender.Sender) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.LossRate.Set(s.LossRate())
	}
}

func buildPolicy(name string, fixedRate float64, groupSize int, starOrder fecpolicy.WebRTCStarOrder, starCoeff float64) (fecpolicy.Policy, error) {
	switch name {
	case "", "fixed":
		return &fecpolicy.Fixed{GroupSize: groupSize, Rate: fixedRate}, nil
	case "fixed-rtx":
		return &fecpolicy.FixedRtx{GroupSize: groupSize, Rate: fixedRate}, nil
	case "rtx-only":
		return &fecpolicy.RtxOnly{GroupSize: groupSize}, nil
	case "pto-only":
		return &fecpolicy.PtoOnly{GroupSize: groupSize}, nil
	case "token-rtx":
		return &fecpolicy.TokenRtx{GroupSize: groupSize}, nil
	case "bolot":
		return &fecpolicy.Bolot{GroupSize: groupSize}, nil
	case "usf":
		return &fecpolicy.Usf{GroupSize: groupSize}, nil
	case "webrtc":
		return &fecpolicy.WebRTC{}, nil
	case "webrtc-adaptive":
		return &fecpolicy.WebRTCAdaptive{}, nil
	case "webrtc-star":
		return &fecpolicy.WebRTCStar{Order: starOrder, Coeff: starCoeff}, nil
	default:
		return nil, fmt.Errorf("unknown fec-policy %q", name)
	}
}
