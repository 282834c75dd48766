package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cronctl/am"
	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/notify"
	"github.com/teranos/cronctl/pulse/reconcile"
	"github.com/teranos/cronctl/pulse/runner"
	"github.com/teranos/cronctl/pulse/trigger"
	"github.com/teranos/cronctl/sym"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run reconciliation passes or the daemon",
	Long: sym.Pulse + ` Pulse - reconciliation passes and the job runner.

Passes:
  ensure    queue every registered job that has no pending entry
  drift     replace pending entries whose cadence no longer matches
  converge  ensure followed by drift
  missed    recover entities whose desired time passed
  confirm   re-queue entities scheduled in the future
  purge     delete completed entries past retention
  legacy    remove obsolete shared state

Examples:
  cronctl pulse start             # Start the daemon in the foreground
  cronctl pulse run converge      # Run one pass and exit
  cronctl pulse run missed --json # Print the pass report as JSON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

The daemon will:
- Converge the queue with the job registry once at startup
- Run the converge pass on pulse.ensure_spec
- Execute due entries every pulse.ticker_interval_seconds
- Rebuild the job registry when a config file changes
- Serve Prometheus metrics on metrics.addr when set
- Run until interrupted (Ctrl+C), finishing the current tick before exit`,
	RunE: runPulseStart,
}

// PulseRunCmd runs one pass
var PulseRunCmd = &cobra.Command{
	Use:       "run <pass>",
	Short:     "Run one reconciliation pass and exit",
	Args:      cobra.ExactArgs(1),
	ValidArgs: reconcile.PassNames(),
	RunE:      runPulseRun,
}

func init() {
	PulseRunCmd.Flags().BoolP("json", "j", false, "Output the report as JSON")
	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(PulseRunCmd)
}

func loadValidConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func runPulseRun(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	st := newStack(database, cfg, clock.Real{}, nil)
	events, unsubscribe := st.events.Subscribe(runEventBuffer)
	defer unsubscribe()

	logger.Debugw("Running pass", logger.FieldPass, args[0])
	report, err := st.engine.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := printReport(out, report, jsonOutput); err != nil {
		return err
	}
	if jsonOutput {
		return nil
	}
	return printEvents(out, drainEvents(events))
}

// runEventBuffer holds every event one pass can emit at default tuning.
const runEventBuffer = 1024

// drainEvents returns the events already buffered on ch without blocking.
func drainEvents(ch <-chan notify.Event) []notify.Event {
	var out []notify.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func printEvents(w io.Writer, events []notify.Event) error {
	if len(events) == 0 {
		return nil
	}
	data := pterm.TableData{{"Event", "Entity"}}
	for _, e := range events {
		data = append(data, []string{e.Name, fmt.Sprint(e.Payload)})
	}
	fmt.Fprintln(w)
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func printReport(w io.Writer, r reconcile.Report, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal report")
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	data := pterm.TableData{
		{"Pass", "Created", "Cancelled", "Finalized", "Purged", "Scanned", "Pages", "Failures", "Duration"},
		{
			r.Pass,
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Cancelled),
			strconv.Itoa(r.Finalized),
			strconv.Itoa(r.Purged),
			strconv.Itoa(r.Scanned),
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Failures),
			r.Duration.Round(time.Millisecond).String(),
		},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newStack(database, cfg, clock.Real{}, reg)
	startLog := logger.AddPulseOpenSymbol(logger.ComponentLogger("pulse"))
	closeLog := logger.AddPulseCloseSymbol(logger.ComponentLogger("pulse"))

	// The queue is consistent with the registry before the first tick
	initial := st.engine.Converge(ctx)
	startLog.Infow("Initial convergence",
		"created", initial.Created,
		"cancelled", initial.Cancelled,
		"failures", initial.Failures)

	runCfg := cfg.RunnerConfig()
	run := runner.NewWithContext(ctx, st.queue, st.engine, clock.Real{}, runCfg,
		logger.ComponentLogger("pulse.runner"), runner.NewMetrics(reg))
	run.Start()

	trig := trigger.New(st.engine, logger.ComponentLogger("pulse.trigger"))
	if cfg.Pulse.EnsureSpec != "" {
		if _, err := trig.Add(reconcile.PassConverge, cfg.Pulse.EnsureSpec); err != nil {
			run.Stop()
			return err
		}
	}
	trig.Start()

	watcher := startConfigWatcher(cfg, st.engine)

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = newMetricsServer(cfg.Metrics.Addr, reg)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("Metrics server failed", logger.FieldAddress, cfg.Metrics.Addr, logger.FieldError, err)
			}
		}()
	}

	defs := st.engine.Definitions()
	fmt.Printf("%s Pulse daemon started\n", sym.PulseOpen)
	fmt.Printf("  Database: %s\n", cfg.GetDatabasePath())
	fmt.Printf("  Jobs: %d (%d rejected)\n", len(defs.Registry().Jobs()), len(defs.Rejected()))
	fmt.Printf("  Tick interval: %v\n", runCfg.Interval)
	fmt.Printf("  Converge spec: %s\n", displaySpec(cfg.Pulse.EnsureSpec))
	if metricsServer != nil {
		fmt.Printf("  Metrics: http://%s/metrics\n", metricsServer.Addr)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)
	notifySystemd(daemon.SdNotifyReady)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.PulseClose)
	notifySystemd(daemon.SdNotifyStopping)

	// Reverse order of startup
	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			closeLog.Warnw("Metrics server shutdown failed", logger.FieldError, err)
		}
		done()
	}
	if watcher != nil {
		watcher.Stop()
	}
	trig.Stop()
	run.Stop()
	cancel()

	closeLog.Infow("Pulse daemon stopped", "ticks", run.Ticks())
	fmt.Printf("%s Pulse daemon stopped\n", sym.PulseClose)
	return nil
}

// startConfigWatcher rebuilds the registry when a loaded config file or the
// extensions file changes. Returns nil when there is nothing to watch.
// Tuning values are read once at startup.
func startConfigWatcher(cfg *am.Config, engine *reconcile.Engine) *am.ConfigWatcher {
	files := am.ConfigFiles()
	if cfg.Extensions.File != "" {
		files = append(files, cfg.Extensions.File)
	}
	if len(files) == 0 {
		return nil
	}

	watcher, err := am.NewConfigWatcher(files...)
	if err != nil {
		logger.Warnw("Config hot reload disabled", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(next *am.Config) error {
		defs := engine.Reload(next.Extensions.ReconcileExtensions())
		logger.PulseInfow("Job registry rebuilt",
			"jobs", len(defs.Registry().Jobs()),
			"rejected", len(defs.Rejected()))
		return nil
	})
	watcher.Start()
	return watcher
}

// notifySystemd reports a state change to the service manager. Outside
// systemd (no NOTIFY_SOCKET) it does nothing and returns false.
func notifySystemd(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warnw("Failed to notify systemd", "state", state, logger.FieldError, err)
		return false
	}
	return sent
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func displaySpec(spec string) string {
	if strings.TrimSpace(spec) == "" {
		return "disabled"
	}
	return spec
}
