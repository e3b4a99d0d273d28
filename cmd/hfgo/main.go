// hfgo - a honggfuzz-style, multi-process, coverage-guided fuzzing engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxfuzzer/hfgo/internal/classifier"
	"github.com/fluxfuzzer/hfgo/internal/config"
	"github.com/fluxfuzzer/hfgo/internal/dashboard"
	"github.com/fluxfuzzer/hfgo/internal/engine"
	"github.com/fluxfuzzer/hfgo/internal/report"
	"github.com/fluxfuzzer/hfgo/internal/ui"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

var version = "0.1.0-dev"

var configPath string

// flagOverrides holds spec.md §6's invocation-surface toggles/limits as
// CLI flags that overlay the YAML config: only a flag the user
// actually passed (cmd.Flags().Changed) overrides its config.yaml
// counterpart, so -config remains the primary surface and these are
// genuinely optional per-run overrides.
type flagOverrides struct {
	inputDir     string
	workDir      string
	threadsMax   int
	mutationsMax int64
	maxFileSz    int64
	timeoutSoft  time.Duration
	timeoutHard  time.Duration
	asLimitBytes uint64
	origFlipRate float64
	fuzzStdin    bool
	saveUnique   bool
	useVerifier  bool
	persistent   bool
	clearEnv     bool
	nullifyStdio bool
	dictionary   string
	blacklist    string
	extMutator   string
	reportFile   string
	resumeFrom   string
	useScreen    bool
	dashboardURL string
	webhookURL   string
}

// applyFlagOverrides overlays cfg with every CLI flag the caller
// actually passed (cmd.Flags().Changed), even when the passed value is
// zero, leaving every field whose flag was not passed to the loaded
// config.yaml. Positional args, when
// given, replace target.cmdline wholesale.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, args []string) {
	fs := cmd.Flags()

	if len(args) > 0 {
		cfg.Target.CmdLine = args
	}
	if fs.Changed("input-dir") {
		cfg.Target.InputDir = flags.inputDir
	}
	if fs.Changed("work-dir") {
		cfg.Target.WorkDir = flags.workDir
	}
	if fs.Changed("threads-max") {
		cfg.Engine.ThreadsMax = flags.threadsMax
	}
	if fs.Changed("mutations-max") {
		cfg.Engine.MutationsMax = flags.mutationsMax
	}
	if fs.Changed("max-file-size") {
		cfg.Engine.MaxFileSz = flags.maxFileSz
	}
	if fs.Changed("tmout-soft") {
		cfg.Engine.TimeoutSoft = flags.timeoutSoft
	}
	if fs.Changed("tmout-hard") {
		cfg.Engine.TimeoutHard = flags.timeoutHard
	}
	if fs.Changed("as-limit") {
		cfg.Engine.ASLimitBytes = flags.asLimitBytes
	}
	if fs.Changed("flip-rate") {
		cfg.Engine.OrigFlipRate = flags.origFlipRate
	}
	if fs.Changed("fuzz-stdin") {
		cfg.Target.FuzzStdin = flags.fuzzStdin
	}
	if fs.Changed("save-unique") {
		cfg.Engine.SaveUnique = flags.saveUnique
	}
	if fs.Changed("use-verifier") {
		cfg.Engine.UseVerifier = flags.useVerifier
	}
	if fs.Changed("persistent") {
		cfg.Target.Persistent = flags.persistent
	}
	if fs.Changed("clear-env") {
		cfg.Target.ClearEnv = flags.clearEnv
	}
	if fs.Changed("nullify-stdio") {
		cfg.Target.NullifyStdio = flags.nullifyStdio
	}
	if fs.Changed("dictionary") {
		cfg.Target.Dictionary = flags.dictionary
	}
	if fs.Changed("blacklist-file") {
		cfg.Engine.BlacklistFile = flags.blacklist
	}
	if fs.Changed("external-mutator") {
		cfg.Target.ExternalMutator = flags.extMutator
	}
	if fs.Changed("report-file") {
		cfg.Output.ReportFile = flags.reportFile
	}
	if fs.Changed("resume-from") {
		cfg.Output.ResumeFrom = flags.resumeFrom
	}
	if fs.Changed("use-screen") {
		cfg.Output.UseScreen = flags.useScreen
	}
	if fs.Changed("dashboard-addr") {
		cfg.Output.DashboardAddr = flags.dashboardURL
	}
	if fs.Changed("report-webhook-url") {
		cfg.Output.ReportWebhookURL = flags.webhookURL
	}
}

var flags flagOverrides

func main() {
	rootCmd := &cobra.Command{
		Use:   "hfgo",
		Short: "hfgo - coverage-guided, multi-process fuzzing engine",
		Long: `hfgo drives many forked copies of a target binary through a
shared coverage bitmap, an evolving on-disk corpus, and AFL-style
mutation, classifying and deduplicating any crashes it finds.`,
		RunE: runFuzz,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (required)")
	rootCmd.MarkFlagRequired("config")

	fs := rootCmd.Flags()
	fs.StringVar(&flags.inputDir, "input-dir", "", "seed input directory, overrides target.input_dir")
	fs.StringVar(&flags.workDir, "work-dir", "", "work directory, overrides target.work_dir")
	fs.IntVar(&flags.threadsMax, "threads-max", 0, "worker count, overrides engine.threads_max")
	fs.Int64Var(&flags.mutationsMax, "mutations-max", 0, "mutation budget, overrides engine.mutations_max")
	fs.Int64Var(&flags.maxFileSz, "max-file-size", 0, "max mutated input size, overrides engine.max_file_size")
	fs.DurationVar(&flags.timeoutSoft, "tmout-soft", 0, "soft per-iteration timeout, overrides engine.timeout_soft")
	fs.DurationVar(&flags.timeoutHard, "tmout-hard", 0, "hard per-iteration timeout, overrides engine.timeout_hard")
	fs.Uint64Var(&flags.asLimitBytes, "as-limit", 0, "RLIMIT_AS bytes, overrides engine.as_limit_bytes")
	fs.Float64Var(&flags.origFlipRate, "flip-rate", 0, "mutation flip rate, overrides engine.flip_rate")
	fs.BoolVar(&flags.fuzzStdin, "fuzz-stdin", false, "feed input on stdin, overrides target.fuzz_stdin")
	fs.BoolVar(&flags.saveUnique, "save-unique", false, "save only unique fingerprints, overrides engine.save_unique")
	fs.BoolVar(&flags.useVerifier, "use-verifier", false, "re-run crashes to confirm stability, overrides engine.use_verifier")
	fs.BoolVar(&flags.persistent, "persistent", false, "reuse one child process across iterations, overrides target.persistent")
	fs.BoolVar(&flags.clearEnv, "clear-env", false, "exec the target with an empty environment, overrides target.clear_env")
	fs.BoolVar(&flags.nullifyStdio, "nullify-stdio", false, "redirect target stdio to /dev/null, overrides target.nullify_stdio")
	fs.StringVar(&flags.dictionary, "dictionary", "", "dictionary file, overrides target.dictionary")
	fs.StringVar(&flags.blacklist, "blacklist-file", "", "fingerprint blacklist file, overrides engine.blacklist_file")
	fs.StringVar(&flags.extMutator, "external-mutator", "", "external mutator command, overrides target.external_mutator")
	fs.StringVar(&flags.reportFile, "report-file", "", "crash report path, overrides output.report_file")
	fs.StringVar(&flags.resumeFrom, "resume-from", "", "resume counters from a prior report file, overrides output.resume_from")
	fs.BoolVar(&flags.useScreen, "use-screen", false, "show the live status screen, overrides output.use_screen")
	fs.StringVar(&flags.dashboardURL, "dashboard-addr", "", "HTTP dashboard listen address, overrides output.dashboard_addr")
	fs.StringVar(&flags.webhookURL, "report-webhook-url", "", "crash webhook URL, overrides output.report_webhook_url")

	rootCmd.Args = cobra.ArbitraryArgs

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hfgo version %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Println(ui.GetBannerStyled())
	fmt.Println()
}

func runFuzz(cmd *cobra.Command, args []string) error {
	printBanner()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	applyFlagOverrides(cmd, cfg, args)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config after flag overrides: %w", err)
	}

	dict, err := config.LoadDictionary(cfg.Target.Dictionary)
	if err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}
	blacklist, err := config.LoadBlacklist(cfg.Engine.BlacklistFile)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	workDir := cfg.Target.WorkDir
	if workDir == "" {
		workDir = "."
	}

	sink, err := report.New(workDir, cfg.Output.ReportFile)
	if err != nil {
		return fmt.Errorf("open report sink: %w", err)
	}
	defer sink.Close()

	if cfg.Output.ReportWebhookURL != "" {
		sink.WithWebhook(report.NewWebhookNotifier(cfg.Output.ReportWebhookURL))
	}

	var resumeCounters types.RunCounters
	if cfg.Output.ResumeFrom != "" {
		resumeCounters, err = report.ReadResumeCounters(cfg.Output.ResumeFrom)
		if err != nil {
			return fmt.Errorf("resume from %s: %w", cfg.Output.ResumeFrom, err)
		}
	}

	var dashSrv *dashboard.Server

	eng, err := engine.New(engine.Config{
		CmdLine:          cfg.Target.CmdLine,
		InputDir:         cfg.Target.InputDir,
		WorkDir:          workDir,
		BackendKind:      cfg.Engine.BackendKind,
		ThreadsMax:       cfg.Engine.ThreadsMax,
		MutationsMax:     cfg.Engine.MutationsMax,
		MaxFileSz:        cfg.Engine.MaxFileSz,
		TimeoutSoft:      cfg.Engine.TimeoutSoft,
		TimeoutHard:      cfg.Engine.TimeoutHard,
		ASLimitBytes:     cfg.Engine.ASLimitBytes,
		OrigFlipRate:     cfg.Engine.OrigFlipRate,
		ForksPerSecond:   cfg.Engine.ForksPerSecond,
		FuzzStdin:        cfg.Target.FuzzStdin,
		SaveUnique:       cfg.Engine.SaveUnique,
		UseVerifier:      cfg.Engine.UseVerifier,
		Persistent:       cfg.Target.Persistent,
		ClearEnv:         cfg.Target.ClearEnv,
		NullifyStdio:     cfg.Target.NullifyStdio,
		Dict:             dict,
		Blacklist:        blacklist,
		ExternalMutator:  cfg.Target.ExternalMutator,
		Extension:        cfg.Target.Extension,
		NearDupThreshold: cfg.Engine.NearDupThreshold,
		ResumeCounters:   resumeCounters,
	}, crashSinkFunc(func(rec classifier.Record, artifactPath string) error {
		err := sink.ReportCrash(rec, artifactPath)
		if dashSrv != nil {
			dashSrv.NotifyCrash(dashboard.CrashEvent{
				Timestamp:   rec.DiscoveredAt,
				Signal:      rec.Fingerprint.Signal.String(),
				PC:          fmt.Sprintf("%#x", rec.Fingerprint.PC),
				ArtifactID:  artifactPath,
				Verified:    rec.Stable,
				Blacklisted: false,
			})
		}
		return err
	}))
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	defer eng.Shutdown()

	if cfg.Output.DashboardAddr != "" {
		dashSrv = dashboard.New(eng)
		go func() {
			if err := dashSrv.Start(cfg.Output.DashboardAddr); err != nil {
				fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
			}
		}()
		defer dashSrv.Stop()
	}

	// Shutdown is flag-based: each worker checks the flag at the top of
	// its iteration and any in-flight launch is allowed to complete.
	// The run context deliberately stays uncancelable, since cancelling
	// it would make exec.CommandContext kill a live child mid-launch.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		eng.RequestShutdown()
	}()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- eng.Run(context.Background()) }()

	if cfg.Output.UseScreen {
		dash := ui.NewDashboard(eng)
		dash.SetTargetCmd(strings.Join(cfg.Target.CmdLine, " "))
		dash.SetMutationsMax(cfg.Engine.MutationsMax)
		if err := ui.Run(dash); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard screen: %v\n", err)
		}
		eng.RequestShutdown()
	}

	runErr := <-runErrCh

	if err := sink.WriteSummary(eng.Snapshot()); err != nil {
		fmt.Fprintf(os.Stderr, "write summary: %v\n", err)
	}

	return runErr
}

// crashSinkFunc adapts a plain function to engine.CrashSink.
type crashSinkFunc func(rec classifier.Record, artifactPath string) error

func (f crashSinkFunc) ReportCrash(rec classifier.Record, artifactPath string) error {
	return f(rec, artifactPath)
}
