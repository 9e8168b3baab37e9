package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/itohio/buttonb/pkg/config"
	"github.com/itohio/buttonb/pkg/hal"
	"github.com/itohio/buttonb/pkg/mesh"
	"github.com/itohio/buttonb/pkg/metrics"
	"github.com/itohio/buttonb/pkg/node"
	"github.com/itohio/buttonb/pkg/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sensor node",
	Long: `Run the sensor node until interrupted.

Every line read from stdin presses a key: an empty line presses key 0, a
number presses that key.`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

var runTransport string

func init() {
	runCmd.Flags().StringVarP(&runTransport, "transport", "t", "", "Uplink (mock, serial, mqtt); overrides transport.kind")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runTransport != "" {
		cfg.Transport.Kind = runTransport
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := configureLogger(cmd, cfg.Log.Level)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	tr, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	n, err := node.New(cfg, node.Deps{
		Transport: tr,
		ADC: hal.NewSimADC(hal.SimADCConfig{
			SamplesPerChannel: cfg.ADC.SamplesPerChannel,
			Millivolts:        cfg.Simulation.Millivolts,
			Sag:               cfg.Simulation.Sag,
			Noise:             cfg.Simulation.VoltageNoise,
		}),
		Temp: hal.NewSimTemp(hal.SimTempConfig{
			Celsius: cfg.Simulation.Celsius,
			Noise:   cfg.Simulation.TempNoise,
		}),
		Logger:    logger,
		Metrics:   m,
		Feedback:  blink(logger),
		Indicator: roleLEDs(logger),
	})
	if err != nil {
		_ = tr.Close()
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer n.Close()

	if cfg.Metrics.Address != "" {
		srv := serveMetrics(cfg.Metrics.Address, reg, logger)
		defer shutdownMetrics(srv, logger)
	}

	go readKeys(ctx, cmd.InOrStdin(), n, logger)

	return n.Run(ctx)
}

func openTransport(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportMock:
		return transport.NewMock(transport.MockAutoAck), nil
	case config.TransportSerial:
		s := transport.NewSerial(transport.SerialConfig{
			Port:       cfg.Transport.Serial.Port,
			BaudRate:   cfg.Transport.Serial.BaudRate,
			AckTimeout: cfg.Transport.Serial.AckTimeout,
		}, log)
		if err := s.Connect(); err != nil {
			return nil, err
		}
		return s, nil
	case config.TransportMQTT:
		return transport.DialMQTT(ctx, transport.MQTTConfig{
			Broker:    cfg.Transport.MQTT.Broker,
			ClientID:  cfg.Transport.MQTT.ClientID,
			Topic:     cfg.Transport.MQTT.Topic,
			KeepAlive: cfg.Transport.MQTT.KeepAlive,
			Timeout:   cfg.Transport.MQTT.Timeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// readKeys turns stdin lines into key presses.
func readKeys(ctx context.Context, r io.Reader, n *node.Node, log logrus.FieldLogger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		key, err := parseKey(scanner.Text())
		if err != nil {
			log.WithError(err).Warn("Ignoring input")
			continue
		}
		if err := n.PressKey(key); err != nil {
			log.WithError(err).WithField("key", key).Warn("Key press dropped")
		}
	}
}

func parseKey(line string) (int, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}
	key, err := strconv.Atoi(line)
	if err != nil || key < 0 {
		return 0, fmt.Errorf("invalid key %q", line)
	}
	return key, nil
}

func blink(log logrus.FieldLogger) func(int) {
	return func(key int) {
		log.WithField("key", key).Info("Key event acknowledged, blinking LED")
	}
}

func roleLEDs(log logrus.FieldLogger) mesh.RoleIndicator {
	return func(r mesh.Role) {
		leds := mesh.IndicatorsFor(r)
		log.WithFields(logrus.Fields{
			"role":       r.String(),
			"led_child":  leds.Child,
			"led_router": leds.Router,
		}).Debug("Role LEDs")
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server exited")
		}
	}()
	log.WithField("address", addr).Info("Serving metrics")
	return srv
}

func shutdownMetrics(srv *http.Server, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Failed to stop metrics server")
	}
}
