/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command tracer is the socktracer CLI entrypoint: it assembles the
// components described in spec.md §2 (offset inferencer, socket
// resolver/classifier, socket/trace tables, ring dispatcher, reclaimer,
// lifecycle, stats) and drives the tracer lifecycle to RUNNING, matching
// spec.md §4.10's state machine.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xerra/socktracer/pkg/kernel"
	"github.com/xerra/socktracer/pkg/offsets"
	"github.com/xerra/socktracer/pkg/reclaim"
	"github.com/xerra/socktracer/pkg/ring"
	"github.com/xerra/socktracer/pkg/socktable"
	"github.com/xerra/socktracer/pkg/stats"
	"github.com/xerra/socktracer/pkg/tracecorr"
	"github.com/xerra/socktracer/pkg/tracer"
	"github.com/xerra/socktracer/pkg/traceid"
)

var (
	log = logrus.New()

	cfgFile         string
	queueCount      int
	queueCapacity   int
	reclaimInterval time.Duration
	adaptPoll       time.Duration
	controlSocket   string
	metricsAddr     string
)

// minSupportedKernel is the lowest release pkg/kernel.Current gates
// startup against, mirroring pkg/linux's docker/kernel-based check for
// the tcp_info overlay but expressed through the adapted teacher
// version-parsing path instead, per spec.md §4.10/§4.11's KernelTooOld
// fatal path.
var minSupportedKernel = kernel.Version{Major: 4, Minor: 14, Patch: 0}

var rootCmd = &cobra.Command{
	Use:   "tracer",
	Short: "Socket-level layer-7 protocol tracer",
	Long: `tracer observes syscall read/write on TCP and UDP sockets, reconstructs
protocol messages, correlates related traces across socket pairs, and
serves tracer-wide counters to Prometheus. The control-socket path is
recorded in the config; no control-socket listener is started.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.socktracer.yaml)")
	rootCmd.Flags().IntVar(&queueCount, "queue-count", 16, "number of dispatcher worker queues")
	rootCmd.Flags().IntVar(&queueCapacity, "queue-capacity", 1024, "per-queue channel buffer size")
	rootCmd.Flags().DurationVar(&reclaimInterval, "reclaim-interval", 10*time.Second, "map reclaimer sweep interval")
	rootCmd.Flags().DurationVar(&adaptPoll, "adapt-poll-period", 500*time.Millisecond, "kernel offset adaptation poll period")
	rootCmd.Flags().StringVar(&controlSocket, "control-socket", "/var/run/socktracer.sock", "control-socket path (stored in the config; no listener is started)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "address to serve Prometheus metrics on")

	_ = viper.BindPFlag("queue_count", rootCmd.Flags().Lookup("queue-count"))
	_ = viper.BindPFlag("queue_capacity", rootCmd.Flags().Lookup("queue-capacity"))
	_ = viper.BindPFlag("reclaim_interval", rootCmd.Flags().Lookup("reclaim-interval"))
	_ = viper.BindPFlag("adapt_poll_period", rootCmd.Flags().Lookup("adapt-poll-period"))
	_ = viper.BindPFlag("control_socket", rootCmd.Flags().Lookup("control-socket"))
	_ = viper.BindPFlag("metrics_addr", rootCmd.Flags().Lookup("metrics-addr"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".socktracer")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SOCKTRACER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("config_file", viper.ConfigFileUsed()).Info("loaded config file")
	}
}

// noopProbes stands in for the real eBPF loader: attaching kprobes and
// tracepoints is outside what this userspace-facing module can exercise
// directly, so lifecycle wiring is demonstrated against a probe set that
// always succeeds. A production build swaps this for a cilium/ebpf (or
// equivalent) loader implementing tracer.ProbeSet.
type noopProbes struct{ log *logrus.Entry }

func (p noopProbes) Attach() error {
	p.log.Debug("probes attached")
	return nil
}

func (p noopProbes) Detach() error {
	p.log.Debug("probes detached")
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg := tracer.NewConfig(
		tracer.WithQueueCount(viper.GetInt("queue_count")),
		tracer.WithQueueCapacity(viper.GetInt("queue_capacity")),
		tracer.WithReclaimInterval(viper.GetDuration("reclaim_interval")),
		tracer.WithAdaptPollPeriod(viper.GetDuration("adapt_poll_period")),
		tracer.WithControlSocket(viper.GetString("control_socket")),
	)

	collector := stats.New(prometheus.Labels{"component": "socktracer"})
	prometheus.MustRegister(collector)

	bootClock := traceid.BootClock()
	alloc := traceid.NewAllocator(0, bootClock)

	sockets := socktable.NewTable(alloc)
	traces := tracecorr.NewTable(alloc)
	broadcaster := offsets.NewBroadcaster(1)

	reclaimer := reclaim.New(sockets, traces, func() uint64 { return bootClock() / uint64(time.Second) })
	reclaimer.Run(cfg.ReclaimInterval)
	defer reclaimer.Stop()

	dispatcher := ring.NewDispatcher(cfg.QueueCount, cfg.QueueCapacity)
	_ = ring.NewReader(dispatcher, uint64(time.Now().UnixNano())-bootClock())

	probes := noopProbes{log: log.WithField("component", "probes")}
	tr := tracer.New(probes, broadcaster, sockets, collector, func() error {
		current, err := kernel.Current()
		if err != nil {
			return err
		}
		if !current.AtLeast(minSupportedKernel) {
			return fmt.Errorf("kernel %s is older than minimum supported %s", current, minSupportedKernel)
		}
		return nil
	}, log.WithField("component", "tracer"))

	if err := tr.Start(); err != nil {
		return fmt.Errorf("starting tracer: %w", err)
	}
	tr.RunAdaptationPoll(cfg.AdaptPollPeriod, nil)
	defer tr.StopPolling()

	go func() {
		var lastQueueLost, lastReclaimed uint64
		for {
			collector.SetSocketMapCount(int64(sockets.Len()))
			collector.SetTraceMapCount(int64(traces.Len()))

			if lost := dispatcher.Lost(); lost > lastQueueLost {
				collector.AddQueueLoss(lost - lastQueueLost)
				lastQueueLost = lost
			}
			if reclaimed := reclaimer.Reclaimed(); reclaimed > lastReclaimed {
				collector.AddReclaimed(reclaimed - lastReclaimed)
				lastReclaimed = reclaimed
			}

			time.Sleep(time.Second)
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	log.WithField("addr", metricsAddr).Info("serving prometheus metrics")
	return http.ListenAndServe(metricsAddr, nil)
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("tracer exited with error")
		os.Exit(1)
	}
}
