package main

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hkust-spark/sparkrtc/control"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "run the websocket hub that pairs a sender and receiver's UDP addresses before they start",
	RunE:  runControl,
}

func init() {
	f := controlCmd.Flags()
	f.String("listen", ":9300", "local HTTP address to bind the websocket endpoint on")
	_ = viper.BindPFlags(f)
	RootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	_ = viper.BindPFlags(cmd.Flags())
	logger := newLogger()

	h := control.NewHub(logger)
	h.OnPaired = func(room string, a, b control.Message) {
		logger.WithField("room", room).
			WithField("a", a.UDPAddr).
			WithField("b", b.UDPAddr).
			Info("control: peers paired")
	}

	addr := viper.GetString("listen")
	logger.WithField("listen", addr).Info("control hub up")
	return http.ListenAndServe(addr, http.HandlerFunc(h.ServeHTTP))
}
