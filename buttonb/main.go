package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "buttonb",
	Short: "Battery sensor node with a button",
	Long: `buttonb runs a sensor node that samples its supply voltage and die
temperature, reports changes to a collector, and sends an acknowledged
notification when its button is pressed.

Peripherals are simulated; the uplink is a mock, a serial border router or an
MQTT broker.`,
	Version: version,
}

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "buttonb.yaml", "Configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error); overrides log.level")
}
