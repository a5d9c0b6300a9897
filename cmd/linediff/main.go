// Command linediff checks a line-number state machine implementation against
// the reference interpreter on random or replayed programs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lattice-substrate/linediff/campaign"
	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/progen"
)

const (
	exitSuccess  = 0
	exitInvalid  = 2
	exitInternal = 10
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCommand(stdin, stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return writeClassifiedError(stderr, err)
	}
	return exitSuccess
}

// writeClassifiedError reports err and maps it to an exit code. Errors that
// carry no class come from flag and argument parsing.
func writeClassifiedError(stderr io.Writer, err error) int {
	var le *lnerr.Error
	if !errors.As(err, &le) {
		if werr := writef(stderr, "error: %v\nrun 'linediff --help' for usage\n", err); werr != nil {
			return exitInternal
		}
		return exitInvalid
	}
	if le.Class == lnerr.FieldMismatch || le.Class == lnerr.DeviceTimeout {
		// The progress line already reported the failure.
		if werr := writef(stderr, "%v\n", err); werr != nil {
			return exitInternal
		}
		return le.Class.ExitCode()
	}
	if werr := writef(stderr, "error: %v\n", err); werr != nil {
		return exitInternal
	}
	return le.Class.ExitCode()
}

// classify gives unclassified errors from a command body a class, so only
// parse errors reach writeClassifiedError without one.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var le *lnerr.Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return lnerr.Wrap(lnerr.InternalError, -1, "interrupted", err)
	}
	return lnerr.Wrap(lnerr.InternalError, -1, "linediff", err)
}

func usageError(format string, args ...any) error {
	return lnerr.New(lnerr.CLIUsage, -1, fmt.Sprintf(format, args...))
}

type rootFlags struct {
	run        int
	rerun      string
	seed       uint32
	workers    int
	save       string
	config     string
	device     string
	deviceCmd  string
	deviceEnv  map[string]string
	pollBudget int
	latency    int
	report     string
	bundle     string
	metrics    string
	logLevel   string
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var f rootFlags
	defaults := campaign.DefaultConfig()

	root := &cobra.Command{
		Use:   "linediff (--run N | --rerun FILE)",
		Short: "Differential tester for line-number program state machines",
		Long: "linediff runs random or replayed line-number programs through the reference\n" +
			"interpreter and a device under test, comparing every emitted row.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return classify(runCampaign(cmd, &f, stdout, stderr))
		},
	}

	fl := root.Flags()
	fl.IntVar(&f.run, "run", 0, "run N random programs")
	fl.StringVar(&f.rerun, "rerun", "", "replay a saved program or repro bundle")
	fl.Uint32Var(&f.seed, "seed", 0, "random seed (0 draws one from entropy)")
	fl.IntVar(&f.workers, "workers", defaults.Workers, "programs compared concurrently")
	fl.StringVar(&f.save, "save", defaults.SavePath, "where a failing random program is written")
	fl.StringVar(&f.config, "config", "", "YAML campaign file")
	fl.StringVar(&f.device, "device", string(defaults.Device), "device under test: model, reference or process")
	fl.StringVar(&f.deviceCmd, "device-cmd", "", "simulator command line for --device process")
	fl.StringToStringVar(&f.deviceEnv, "device-env", nil, "extra environment for the simulator (KEY=VALUE)")
	fl.IntVar(&f.pollBudget, "poll-budget", defaults.PollBudget, "STATUS reads a device may spend settling")
	fl.IntVar(&f.latency, "latency", 0, "busy cycles per code write on the device model")
	fl.StringVar(&f.report, "report", "", "write a JSON failure report here")
	fl.StringVar(&f.bundle, "bundle", "", "write a repro bundle (.tar.gz) here")
	fl.StringVar(&f.metrics, "metrics", "", "write Prometheus metrics here when the run ends")
	fl.StringVar(&f.logLevel, "log-level", defaults.LogLevel, "debug, info, warn or error")
	root.MarkFlagsMutuallyExclusive("run", "rerun")

	root.AddCommand(
		newTableCommand(stdout),
		newLookupCommand(stdout),
		newDisasmCommand(stdout),
		newServeModelCommand(stdin, stdout),
	)
	return root
}

// resolveConfig layers the config file and explicitly set flags over the
// defaults.
func resolveConfig(cmd *cobra.Command, f *rootFlags) (*campaign.Config, error) {
	cfg := campaign.DefaultConfig()
	if f.config != "" {
		loaded, err := campaign.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	changed := cmd.Flags().Changed
	if changed("run") {
		cfg.Count = f.run
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("save") {
		cfg.SavePath = f.save
	}
	if changed("device") {
		cfg.Device = campaign.DeviceKind(f.device)
	}
	if changed("device-cmd") {
		cfg.DeviceCommand = strings.Fields(f.deviceCmd)
	}
	if changed("device-env") {
		cfg.DeviceEnv = f.deviceEnv
	}
	if changed("poll-budget") {
		cfg.PollBudget = f.pollBudget
	}
	if changed("latency") {
		cfg.Latency = f.latency
	}
	if changed("report") {
		cfg.ReportPath = f.report
	}
	if changed("bundle") {
		cfg.BundlePath = f.bundle
	}
	if changed("metrics") {
		cfg.MetricsPath = f.metrics
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := campaign.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runCampaign(cmd *cobra.Command, f *rootFlags, stdout, stderr io.Writer) error {
	if cmd.Flags().Changed("run") && f.run <= 0 {
		return usageError("--run must be a positive number of programs")
	}
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		return err
	}
	if f.rerun == "" && cfg.Count == 0 {
		return usageError("one of --run or --rerun is required")
	}
	level, err := campaign.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := campaign.NewLogger(stderr, level)

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	if f.rerun != "" {
		src, report, err := campaign.OpenReplay(f.rerun)
		if err != nil {
			return err
		}
		if report != nil {
			log.Info("replaying bundle", "path", f.rerun, "recorded_class", report.FailureClass,
				"recorded_row", report.Row, "recorded_seed", report.Seed)
			opts.Seed = report.Seed
		}
		opts.Source = src
		// A replayed program already exists on disk.
		opts.SavePath = ""
	} else {
		gen := progen.NewRandom(cfg.Count, cfg.Seed)
		opts.Source = gen
		opts.Seed = gen.Seed()
		log.Info("random campaign", "count", cfg.Count, "seed", gen.Seed())
	}
	opts.Logger = log
	opts.Progress = stdout
	if cfg.MetricsPath != "" {
		opts.Metrics = campaign.NewMetrics()
	}

	_, runErr := campaign.Run(cmd.Context(), opts)
	if opts.Metrics != nil {
		if err := opts.Metrics.WriteFile(cfg.MetricsPath); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
