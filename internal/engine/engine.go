// Package engine implements the Engine: the worker loop that drives
// the static → dynamic-pre → dynamic-main state machine, coordinates
// Corpus, Mutator, FeedbackBackend, Subprocess, and CrashClassifier,
// writes crash artifacts, and maintains the nine run-level counters.
// Shaped like an iterate-forever worker loop with atomic counters and
// a stop channel, with per-worker process launch discipline borrowed
// from syzkaller's syz-fuzzer, generalized from "one feedback loop, N
// mutations per seed" to "N concurrent workers, each running the full
// select→mutate→launch→classify→offer cycle against its own
// subprocess and backend instance."
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxfuzzer/hfgo/internal/backend"
	"github.com/fluxfuzzer/hfgo/internal/classifier"
	"github.com/fluxfuzzer/hfgo/internal/corpus"
	"github.com/fluxfuzzer/hfgo/internal/diskstore"
	"github.com/fluxfuzzer/hfgo/internal/feedback"
	"github.com/fluxfuzzer/hfgo/internal/mutator"
	"github.com/fluxfuzzer/hfgo/internal/poolutil"
	"github.com/fluxfuzzer/hfgo/internal/subprocess"
	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// CrashSink receives newly-written crash artifacts, implemented by
// internal/report.Sink. Defined here (consumer-side) rather than
// imported, so engine never imports internal/report.
type CrashSink interface {
	ReportCrash(rec classifier.Record, artifactPath string) error
}

// Config is the Engine's invocation surface.
type Config struct {
	CmdLine     []string
	InputDir    string
	WorkDir     string
	BackendKind string // "hwcounter" | "softbitmap" | "sancov" | "posix"

	ThreadsMax     int
	MutationsMax   int64
	MaxFileSz      int64
	TimeoutSoft    time.Duration
	TimeoutHard    time.Duration
	ASLimitBytes   uint64
	OrigFlipRate   float64
	ForksPerSecond float64

	FuzzStdin    bool
	SaveUnique   bool
	UseVerifier  bool
	Persistent   bool
	ClearEnv     bool
	NullifyStdio bool

	Dict             [][]byte
	Blacklist        map[types.Fingerprint]struct{}
	ExternalMutator  string
	Extension        string
	NearDupThreshold int

	// ResumeCounters seeds the run-level counters from a prior run's
	// summary line (config's resume_from / report.ReadResumeCounters),
	// zero value if this is a fresh run.
	ResumeCounters types.RunCounters
}

// Engine owns the Corpus and FeedbackStore handles for the run and
// drives ThreadsMax concurrent workers against them.
type Engine struct {
	cfg   Config
	store *feedback.Store
	cp    *corpus.Corpus
	track *classifier.Tracker
	pool  *poolutil.Pool
	state *runState
	sink  CrashSink
}

// New constructs an Engine, loading the seed corpus from cfg.InputDir.
func New(cfg Config, sink CrashSink) (*Engine, error) {
	if cfg.ThreadsMax <= 0 || cfg.ThreadsMax > feedback.MaxWorkers {
		return nil, fmt.Errorf("engine: threadsMax must be in (0, %d]", feedback.MaxWorkers)
	}
	if cfg.Extension == "" {
		cfg.Extension = ".fuzz"
	}
	switch cfg.BackendKind {
	case "", "posix", "hwcounter", "softbitmap", "sancov":
	default:
		return nil, fmt.Errorf("engine: unknown backend kind %q", cfg.BackendKind)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: work dir: %w", err)
	}

	store := feedback.NewStore()

	dstore, err := diskstore.New(diskstore.DefaultConfig(filepath.Join(cfg.WorkDir, "corpus")))
	if err != nil {
		return nil, fmt.Errorf("engine: disk store: %w", err)
	}
	cp := corpus.New(corpus.Config{
		Store:            dstore,
		MaxFileSz:        cfg.MaxFileSz,
		NearDupThreshold: cfg.NearDupThreshold,
	})
	if err := cp.LoadSeeds(cfg.InputDir); err != nil {
		return nil, fmt.Errorf("engine: loading seeds: %w", err)
	}

	pool, err := poolutil.New(&poolutil.Options{
		Size:        cfg.ThreadsMax,
		PreAlloc:    true,
		MaxBlocking: cfg.ThreadsMax,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: worker pool: %w", err)
	}

	initial := types.StateDynamicPre
	if cfg.BackendKind == "posix" || cfg.BackendKind == "" {
		initial = types.StateStatic
	}

	state := newRunState(initial)
	state.seedFrom(cfg.ResumeCounters)

	return &Engine{
		cfg:   cfg,
		store: store,
		cp:    cp,
		track: classifier.NewTracker(cfg.WorkDir, cfg.Extension),
		pool:  pool,
		state: state,
		sink:  sink,
	}, nil
}

// Run starts ThreadsMax workers and blocks until every worker exits,
// either from reaching MutationsMax or from ctx cancellation /
// RequestShutdown.
func (e *Engine) Run(ctx context.Context) error {
	for id := 0; id < e.cfg.ThreadsMax; id++ {
		workerID := id
		if err := e.pool.Submit(func() { e.workerLoop(ctx, workerID) }); err != nil {
			return fmt.Errorf("engine: submit worker %d: %w", workerID, err)
		}
	}
	e.pool.Wait()
	return nil
}

// RequestShutdown sets the global shutdown flag checked at the top of
// each worker iteration: in-flight launches are allowed to complete.
func (e *Engine) RequestShutdown() { e.state.requestShutdown() }

// Shutdown releases the worker pool, to be called after Run returns.
func (e *Engine) Shutdown() { e.pool.Shutdown() }

// Snapshot reports a point-in-time view of the run's counters and
// state, read by the status screen / dashboard.
func (e *Engine) Snapshot() types.RunCountersSnapshot {
	return e.state.snapshot(e.cp.SeedCount(), e.cp.DynamicSize())
}

// workerLoop implements the ten-step per-worker iteration.
func (e *Engine) workerLoop(ctx context.Context, workerID int) {
	w := newWorker(e, workerID)
	defer w.close()

	for {
		// 1. global shutdown / mutationsMax check.
		if e.state.shuttingDown() {
			return
		}
		if _, overshoot := e.state.nextIteration(e.cfg.MutationsMax); overshoot {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.iterate(ctx)
	}
}

// worker holds the per-worker resources: its own mutation engine (own
// LCG), subprocess launcher, and backend instance — each worker owns
// its scratch file path for the run.
type worker struct {
	eng         *Engine
	id          int
	mutEngine   *mutator.Engine
	launcher    *subprocess.Launcher
	be          backend.Backend
	scratchPath string
	hwHighWater types.HWCounts
	crashSeq    int
	// persChild is the live persistent-mode child this worker is
	// reusing across iterations, nil outside persistent mode or
	// between a dead child and its replacement.
	persChild *subprocess.PersistentChild
}

func newWorker(e *Engine, id int) *worker {
	scratch := filepath.Join(e.cfg.WorkDir, fmt.Sprintf(".scratch.worker%d", id))

	be, err := backend.New(e.cfg.BackendKind, e.store)
	if err != nil {
		be, _ = backend.New("posix", e.store)
	}
	if setter, ok := be.(interface{ SetWorkerID(int) }); ok {
		setter.SetWorkerID(id)
	}

	launcher := subprocess.NewLauncher(subprocess.Config{
		CmdLine:      e.cfg.CmdLine,
		FuzzStdin:    e.cfg.FuzzStdin,
		NullifyStdio: e.cfg.NullifyStdio,
		ClearEnv:     e.cfg.ClearEnv,
		ASLimitBytes: e.cfg.ASLimitBytes,
		TimeoutSoft:  e.cfg.TimeoutSoft,
		TimeoutHard:  e.cfg.TimeoutHard,
		Persistent:   e.cfg.Persistent,
	}, e.cfg.ForksPerSecond)

	return &worker{
		eng:         e,
		id:          id,
		mutEngine:   mutator.NewEngine(),
		launcher:    launcher,
		be:          be,
		scratchPath: scratch,
	}
}

func (w *worker) close() {
	if w.persChild != nil {
		w.persChild.Close()
		w.persChild = nil
	}
	_ = os.Remove(w.scratchPath)
}

// iterate runs steps 2-10 of the worker loop once.
func (w *worker) iterate(ctx context.Context) {
	e := w.eng
	state := e.state.State()

	var parent []byte
	var seedIdx = -1
	switch state {
	case types.StateStatic, types.StateDynamicMain:
		in := e.cp.SelectParent(state)
		if in == nil {
			return
		}
		in.RecordExecution()
		parent = in.Data
	case types.StateDynamicPre:
		in, idx := e.cp.SelectSeedIndexed()
		if in == nil {
			return
		}
		in.RecordExecution()
		parent = in.Data
		seedIdx = idx
	}

	// Seeds are executed unmodified during dynamic-pre: the warm-up pass
	// exists to populate the bitmap with each seed's own coverage, not a
	// variant's.
	child := parent
	if state != types.StateDynamicPre {
		var err error
		child, err = w.mutEngine.Mutate(parent, mutator.Options{
			FlipRate: e.cfg.OrigFlipRate,
			Dict:     e.cfg.Dict,
			External: e.cfg.ExternalMutator,
		})
		if err != nil {
			return // mutation/I-O error: iteration dropped, run continues
		}
	}
	if e.cfg.MaxFileSz > 0 && int64(len(child)) > e.cfg.MaxFileSz {
		child = child[:e.cfg.MaxFileSz]
	}

	if err := os.WriteFile(w.scratchPath, child, 0o644); err != nil {
		return
	}

	if e.cfg.Persistent {
		w.iteratePersistent(ctx, state, seedIdx, child)
	} else {
		w.iterateForked(ctx, state, seedIdx, child)
	}
}

// iterateForked runs one iteration as a fresh fork/exec, the
// non-persistent path.
func (w *worker) iterateForked(ctx context.Context, state types.FuzzState, seedIdx int, child []byte) {
	e := w.eng

	fds := backend.ChildFDs{}
	var extraFiles []*os.File
	if pipePreparer, ok := w.be.(interface{ OpenChildPipe() (*os.File, error) }); ok {
		if wfile, err := pipePreparer.OpenChildPipe(); err == nil {
			extraFiles = append(extraFiles, wfile)
			// os/exec places ExtraFiles[i] at fd 3+i in the child — the
			// closest Go's exec package allows to honggfuzz's literal
			// fd 1022; only used here as a "a descriptor was provided"
			// signal to PrepareChild, not dereferenced by number.
			fds.BitmapFD = 3 + len(extraFiles) - 1
		}
	}
	if scraper, ok := w.be.(interface{ SetWorkDir(string) }); ok {
		scraper.SetWorkDir(e.cfg.WorkDir)
	}
	reader, hasPipe := w.be.(interface{ ReadChildPipe() })

	posixOnly := false
	if err := w.be.PrepareChild(fds, nil); err != nil {
		posixOnly = true
	}

	res, err := w.launcher.Run(ctx, w.scratchPath, extraFiles)
	if err != nil {
		// Launch failed: the child never received the pipe's write end,
		// so drain/close our read end before dropping the iteration.
		if hasPipe {
			reader.ReadChildPipe()
		}
		return
	}

	var pollResult backend.PollResult
	if !posixOnly {
		if hasPipe {
			reader.ReadChildPipe()
		}
		if scraper, ok := w.be.(interface{ ScrapeWorkDir() error }); ok {
			_ = scraper.ScrapeWorkDir()
		}
		_ = w.be.Attach(res.Pid)
		pollResult, _ = w.be.Poll()
		_ = w.be.Detach(res.Pid)
		w.be.Merge(pollResult.HW)
	} else if hasPipe {
		reader.ReadChildPipe()
	}

	status := classifier.Status{
		Exited:   !res.TimedOut && res.Signal == 0,
		ExitCode: res.ExitCode,
		Signaled: res.Signal != 0,
		Signal:   types.Signal(res.Signal),
		TimedOut: res.TimedOut,
	}

	w.finish(state, seedIdx, child, status, res.ReportText, res.Pid, pollResult)
}

// iteratePersistent drives the socketpair-before-fork handshake: the
// same target process is reused across iterations via
// PersistentSession's 4-byte-length-prefixed writes and single-byte
// acks, until it crashes, times out, or exits, at which point a fresh
// child is launched before the next iteration.
func (w *worker) iteratePersistent(ctx context.Context, state types.FuzzState, seedIdx int, child []byte) {
	e := w.eng

	if w.persChild == nil {
		pc, err := w.launcher.LaunchPersistent(ctx, w.scratchPath)
		if err != nil {
			return // launch failed: drop the iteration, retry next time
		}
		w.persChild = pc
		_ = w.be.Attach(pc.Pid())
	}

	alive, timedOut := w.persChild.Iterate(child, e.cfg.TimeoutSoft, e.cfg.TimeoutHard)

	pid := w.persChild.Pid()
	pollResult, _ := w.be.Poll()
	w.be.Merge(pollResult.HW)

	var reportText []byte
	var status classifier.Status

	switch {
	case timedOut:
		reportText = w.persChild.ReportText()
		_ = w.be.Detach(pid)
		w.persChild.Close()
		w.persChild = nil
		status = classifier.Status{TimedOut: true}
	case !alive:
		res := w.persChild.Wait()
		reportText = res.ReportText
		_ = w.be.Detach(pid)
		w.persChild = nil
		status = classifier.Status{
			Exited:   res.Signal == 0,
			ExitCode: res.ExitCode,
			Signaled: res.Signal != 0,
			Signal:   types.Signal(res.Signal),
		}
	default:
		status = classifier.Status{Exited: true}
	}

	w.finish(state, seedIdx, child, status, reportText, pid, pollResult)
}

// finish implements the shared classify/save/offer/state-machine tail
// of an iteration, common to both the forked and persistent paths.
func (w *worker) finish(state types.FuzzState, seedIdx int, child []byte, status classifier.Status, reportText []byte, pid int, pollResult backend.PollResult) {
	e := w.eng

	outcome := classifier.Classify(status, classifier.BackendData{BacktraceText: reportText})
	e.state.mutationsCnt.Add(1)

	switch outcome {
	case classifier.OutcomeTimeout:
		e.state.timeoutedCnt.Add(1)
	case classifier.OutcomeInteresting:
		w.handleCrash(status, child, pid, seedIdx, reportText)
	}

	hadNewCoverage := pollResult.NewCoverage || w.newHighWater(pollResult.HW)
	if state != types.StateStatic {
		e.cp.Offer(child, hadNewCoverage)
	}

	if state == types.StateDynamicPre && seedIdx >= 0 {
		e.cp.MarkDone(seedIdx)
		if e.cp.DoneIndex() >= e.cp.SeedCount() {
			e.state.advanceToDynamicMain()
		}
	}
}

// newHighWater reports whether hw exceeds this worker's previous
// high-water mark on any of its three counters, updating the mark if
// so.
func (w *worker) newHighWater(hw types.HWCounts) bool {
	grew := false
	if hw.CPUInstrCnt > w.hwHighWater.CPUInstrCnt {
		w.hwHighWater.CPUInstrCnt = hw.CPUInstrCnt
		grew = true
	}
	if hw.CPUBranchCnt > w.hwHighWater.CPUBranchCnt {
		w.hwHighWater.CPUBranchCnt = hw.CPUBranchCnt
		grew = true
	}
	if hw.BBCnt > w.hwHighWater.BBCnt {
		w.hwHighWater.BBCnt = hw.BBCnt
		grew = true
	}
	return grew
}

// handleCrash implements step 7: optionally verify, check the
// blacklist, and save a unique artifact.
func (w *worker) handleCrash(status classifier.Status, input []byte, pid int, seedIdx int, reportText []byte) {
	e := w.eng
	e.state.crashesCnt.Add(1)

	fp := classifier.Fingerprint(status.Signal, classifier.BackendData{BacktraceText: reportText})
	rec := &classifier.Record{Fingerprint: fp, Input: input, Pid: pid, DiscoveredAt: time.Now(), ReportText: reportText}

	if e.cfg.UseVerifier {
		relaunch := func(in []byte) (types.Fingerprint, error) {
			return w.relaunch(in)
		}
		if err := classifier.Verify(rec, relaunch); err == nil && rec.Stable {
			e.state.verifiedCrashesCnt.Add(1)
		}
	}

	if _, blacklisted := e.cfg.Blacklist[fp]; blacklisted {
		e.state.blCrashesCnt.Add(1)
		return
	}

	// An unstable crash stays counted in crashesCnt but never enters the
	// unique set and leaves no artifact behind.
	if e.cfg.UseVerifier && !rec.Stable {
		return
	}

	if !e.cfg.SaveUnique {
		path, err := w.saveAlways(input, fp, pid)
		if err == nil && e.sink != nil {
			_ = e.sink.ReportCrash(*rec, path)
		}
		return
	}

	dryRunSuffix := ""
	if e.cfg.OrigFlipRate == 0 && e.cfg.UseVerifier {
		dryRunSuffix = fmt.Sprintf(".w%d", w.id)
	}

	isNew, path, err := e.track.Offer(fp, pid, input, dryRunSuffix)
	if err != nil || !isNew {
		return
	}
	e.state.uniqueCrashesCnt.Add(1)
	if e.sink != nil {
		_ = e.sink.ReportCrash(*rec, path)
	}
}

// relaunch re-executes input through this worker's own launcher and
// backend, used by classifier.Verify to confirm crash stability.
func (w *worker) relaunch(input []byte) (types.Fingerprint, error) {
	if err := os.WriteFile(w.scratchPath, input, 0o644); err != nil {
		return types.Fingerprint{}, err
	}
	res, err := w.launcher.Run(context.Background(), w.scratchPath, nil)
	if err != nil {
		return types.Fingerprint{}, err
	}
	sig := types.Signal(res.Signal)
	return classifier.Fingerprint(sig, classifier.BackendData{BacktraceText: res.ReportText}), nil
}

// saveAlways implements the saveUnique=false path: every interesting
// crash is written, named by signal/pid/timestamp with a worker-local
// disambiguator instead of the fingerprint-dedup artifact name.
func (w *worker) saveAlways(input []byte, fp types.Fingerprint, pid int) (string, error) {
	dir := filepath.Join(w.eng.cfg.WorkDir, "crashes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	w.crashSeq++
	name := fmt.Sprintf("%s.PID.%d.TIME.%s.w%d.%d%s", fp.Signal.String(), pid, time.Now().Format("2006-01-02.15:04:05"), w.id, w.crashSeq, w.eng.cfg.Extension)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, input, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
