// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flare/internal/config"
	"github.com/Thermoquad/flare/internal/controller"
	"github.com/Thermoquad/flare/internal/groutine"
	"github.com/Thermoquad/flare/internal/hcitrace"
	"github.com/Thermoquad/flare/internal/metrics"
	"github.com/Thermoquad/flare/pkg/lineproto"
	"github.com/Thermoquad/flare/pkg/node"
)

var (
	runControllerKind string
	runHCIDevice      int
	runControllerPort string
	runControllerBaud int
	runReceivers      int
	runCapacity       int
	runCheckDuration  time.Duration
	runMetricsAddr    string
	runTraceFile      string
	runStdio          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a broadcast node",
	Long: `Run a flare node.

The node opens a Bluetooth controller, brings it up for non-connectable
advertising and serves the line protocol on the host link:

  <cmd_type>,<delay_us>,<prep_us>,<mask_hex>,<r>,<g>,<b>   schedule a task
  CHECK                                                   scan for receivers

Controllers:
  socket  Linux HCI user channel (--hci-device, needs CAP_NET_ADMIN)
  uart    H4 over a serial port (--controller-port, --controller-baud)
  sim     in-process simulator with --receivers virtual receivers

The host link is --port or --url, or stdin/stdout with --stdio.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runControllerKind, "controller", "socket", "Controller transport ("+strings.Join(controller.Kinds(), ", ")+")")
	runCmd.Flags().IntVar(&runHCIDevice, "hci-device", 0, "HCI device index (socket controller)")
	runCmd.Flags().StringVar(&runControllerPort, "controller-port", "", "Serial port of the controller (uart controller)")
	runCmd.Flags().IntVar(&runControllerBaud, "controller-baud", 115200, "Baud rate of the controller (uart controller)")
	runCmd.Flags().IntVar(&runReceivers, "receivers", controller.DefaultSimReceivers, "Simulated receiver count (sim controller)")
	runCmd.Flags().IntVar(&runCapacity, "capacity", 4, "Task table capacity")
	runCmd.Flags().DurationVar(&runCheckDuration, "check-duration", 2*time.Second, "How long CHECK scans for acknowledgements")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	runCmd.Flags().StringVar(&runTraceFile, "trace-file", "", "Record every HCI packet to this file")
	runCmd.Flags().BoolVar(&runStdio, "stdio", false, "Serve the host link on stdin/stdout")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		config.KeyControllerKind:      "controller",
		config.KeyControllerDevice:    "hci-device",
		config.KeyControllerPort:      "controller-port",
		config.KeyControllerBaud:      "controller-baud",
		config.KeyControllerReceivers: "receivers",
		config.KeyNodeCapacity:        "capacity",
		config.KeyCheckDuration:       "check-duration",
		config.KeyMetricsAddr:         "metrics-addr",
		config.KeyTraceFile:           "trace-file",
	})
	if err != nil {
		return err
	}
	log := cfg.NewLogger()
	if runStdio {
		// stdout carries protocol replies
		log.SetOutput(os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := controller.Open(cfg.Controller.Kind, controller.Options{
		Device:    cfg.Controller.Device,
		Port:      cfg.Controller.Port,
		Baud:      cfg.Controller.Baud,
		Receivers: cfg.Controller.Receivers,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to open controller: %w", err)
	}
	defer ctrl.Close()

	var trace io.Writer
	if cfg.TraceFile != "" {
		f, err := os.Create(cfg.TraceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		trace = f
	}

	var host Connection
	connInfo := "stdio"
	if runStdio {
		host = stdioConnection{}
	} else {
		host, connInfo, err = OpenConnection()
		if err != nil {
			return err
		}
	}
	defer host.Close()

	rt, err := startNode(ctx, cfg, ctrl, host, trace, log)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"controller": cfg.Controller.Kind,
		"host":       connInfo,
		"capacity":   cfg.Capacity,
	}).Info("Node running")

	// not waited for: a stdin read cannot be interrupted
	groutine.Go(ctx, nil, "host-link", func(ctx context.Context) {
		defer stop()
		if err := rt.frontend.Serve(ctx, host); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Host link failed")
			return
		}
		log.Info("Host link closed")
	})

	<-ctx.Done()
	log.Info("Shutting down")

	host.Close()
	ctrl.Close()
	rt.wg.Wait()
	return nil
}

// nodeRuntime is a running node and its host-facing front end
type nodeRuntime struct {
	node     *node.Node
	frontend *lineproto.Frontend
	metrics  *metrics.Metrics
	wg       sync.WaitGroup

	// stops the trace writer early; nil when not tracing
	stopTrace context.CancelFunc
}

// startNode builds a node on ctrl, brings the controller up and starts the
// scheduler, the event pump and, if configured, the metrics server. Replies
// are written to out. When trace is non-nil every HCI packet is recorded to it
// by a trace writer that drains its queue when ctx is cancelled.
func startNode(ctx context.Context, cfg *config.Config, ctrl controller.Controller, out io.Writer, trace io.Writer, log *logrus.Logger) (*nodeRuntime, error) {
	clock := node.NewClock()
	m := metrics.New()

	rt := &nodeRuntime{metrics: m}

	var hciCtrl node.Controller = ctrl
	var recorder *hcitrace.Recorder
	if trace != nil {
		recorder = hcitrace.NewRecorder(ctrl, hcitrace.NewWriter(trace), clock, log)
		hciCtrl = recorder

		var traceCtx context.Context
		traceCtx, rt.stopTrace = context.WithCancel(ctx)
		groutine.Go(traceCtx, &rt.wg, "trace-writer", recorder.Run)
	}

	lines := node.NewLineWriter(out)
	n := node.New(hciCtrl, node.Config{
		Capacity:    cfg.Capacity,
		EventBuffer: cfg.EventBuffer,
		Timing:      cfg.Timing,
		Clock:       clock,
		Output:      lines,
		Logger:      log,
		Metrics:     m,
	})

	deliver := n.Deliver
	if recorder != nil {
		deliver = recorder.Deliver(n.Deliver)
	}
	ctrl.Start(ctx, deliver)

	if err := n.Bringup(); err != nil {
		// keep the trace of the failed bring-up
		if rt.stopTrace != nil {
			rt.stopTrace()
		}
		rt.wg.Wait()
		return nil, fmt.Errorf("controller bring-up failed: %w", err)
	}

	rt.node = n
	rt.frontend = lineproto.New(n, lineproto.Config{
		MaxLength:     cfg.LineMaxLength,
		CheckDuration: cfg.Timing.CheckDuration,
		Clock:         clock,
		Output:        lines,
		Logger:        log,
		Metrics:       m,
	})

	groutine.Go(ctx, &rt.wg, "scheduler", func(ctx context.Context) {
		_ = n.Run(ctx)
	})
	groutine.Go(ctx, &rt.wg, "event-pump", func(ctx context.Context) {
		_ = n.PumpEvents(ctx)
	})
	if cfg.MetricsAddr != "" {
		groutine.Go(ctx, &rt.wg, "metrics", func(ctx context.Context) {
			log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		})
	}

	return rt, nil
}
