// Command tubetrack identifies scanned tube boxes and reconciles tube
// positions from decoded grid files. It never prompts: decisions the tracker
// cannot take alone are reported and the command exits with status 3.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"tubetrack/internal/config"
	"tubetrack/internal/core"
	"tubetrack/pkg/domain"
	"tubetrack/pkg/gridpos"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitDecision = 3
)

var exitFunc = os.Exit

// env carries what every subcommand needs.
type env struct {
	tracker *core.Tracker
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) int
}

var commands = map[string]command{
	"boxes":     {"list known boxes", runBoxes},
	"add-box":   {"create an empty box", runAddBox},
	"match":     {"rank boxes against a decoded grid", runMatch},
	"reconcile": {"update tube positions from a decoded grid", runReconcile},
	"drift":     {"detect box rotation between the stored state and a decoded grid", runDrift},
	"history":   {"list archived scans of a box", runHistory},
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func usage(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintln(w, "usage: tubetrack [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	_, _ = fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tubetrack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPaths []string
	fs.Func("config", "configuration file, highest priority first (repeatable; replaces the default search path)", func(p string) error {
		configPaths = append(configPaths, p)
		return nil
	})
	verbose := fs.Bool("v", false, "debug logging")
	var out outputs
	fs.StringVar(&out.audit, "audit", "", "append audit entries as JSON lines to this file")
	fs.StringVar(&out.trace, "trace", "", "append one JSON line per tracker operation to this file")
	fs.StringVar(&out.metrics, "metrics", "", "write operation metrics in Prometheus text format to this file on exit")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return exitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		usage(stderr, fs)
		return exitUsage
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if len(configPaths) == 0 {
		configPaths = config.SearchPaths()
	}
	cfg, err := config.Load(configPaths...)
	if err != nil {
		logger.Error("load configuration", "error", err)
		return exitError
	}

	ctx := context.Background()
	e, closeEnv, err := openEnv(ctx, cfg, logger, out, stdout, stderr)
	if err != nil {
		logger.Error("open tracker", "error", err)
		return exitError
	}
	code := cmd.run(ctx, e, rest[1:])
	if err := closeEnv(); err != nil {
		logger.Error("close tracker", "error", err)
		if code == exitOK {
			code = exitError
		}
	}
	return code
}

// outputs names the optional observability files.
type outputs struct {
	audit   string
	trace   string
	metrics string
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304: operator-supplied path
}

func openEnv(ctx context.Context, cfg config.Config, logger *slog.Logger, out outputs, stdout, stderr io.Writer) (*env, func() error, error) {
	settings, err := core.SettingsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := core.OpenTableStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	var files []*os.File
	var registry *prometheus.Registry
	closeEnv := func() error {
		err := core.CloseStore(ctx, store)
		if registry != nil {
			err = errors.Join(err, writeMetricsFile(out.metrics, registry))
		}
		for _, f := range files {
			err = errors.Join(err, f.Close())
		}
		return err
	}
	abort := func(err error) (*env, func() error, error) {
		registry = nil
		_ = closeEnv()
		return nil, nil, err
	}

	archive, err := core.OpenScanArchive(ctx, cfg.Blob)
	if err != nil {
		return abort(err)
	}
	opts := []core.Option{core.WithLogger(logger), core.WithScanArchive(archive)}
	if out.audit != "" {
		f, err := openAppend(out.audit)
		if err != nil {
			return abort(fmt.Errorf("open audit log: %w", err))
		}
		files = append(files, f)
		opts = append(opts, core.WithAuditRecorder(core.NewJSONAuditRecorder(f)))
	}
	if out.trace != "" {
		f, err := openAppend(out.trace)
		if err != nil {
			return abort(fmt.Errorf("open trace log: %w", err))
		}
		files = append(files, f)
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f, nil)))
	}
	if out.metrics != "" {
		reg := prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return abort(fmt.Errorf("register metrics: %w", err))
		}
		registry = reg
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	e := &env{
		tracker: core.NewTracker(store, settings, opts...),
		stdout:  stdout,
		stderr:  stderr,
		logger:  logger,
	}
	return e, closeEnv, nil
}

// writeMetricsFile replaces path with the current metrics snapshot.
func writeMetricsFile(path string, g prometheus.Gatherer) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304: operator-supplied path
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	if err := core.WriteMetricsText(f, g); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (e *env) fail(msg string, err error) int {
	e.logger.Error(msg, "error", err)
	return exitError
}

func (e *env) printJSON(v any) int {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return e.fail("write output", err)
	}
	return exitOK
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// readGrid loads a decoded grid: a JSON array of rows with null for empty
// cells. "-" reads standard input.
func readGrid(path string) (gridpos.Grid, error) {
	if path == "" {
		return nil, errors.New("-grid is required")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304: operator-supplied path
	}
	if err != nil {
		return nil, fmt.Errorf("read grid: %w", err)
	}
	var g gridpos.Grid
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse grid %s: %w", path, err)
	}
	return g, nil
}

func requireBox(box string) error {
	if strings.TrimSpace(box) == "" {
		return errors.New("-box is required")
	}
	return nil
}

func runBoxes(ctx context.Context, e *env, args []string) int {
	fs := newFlagSet("boxes", e)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	boxes, err := e.tracker.Boxes(ctx)
	if err != nil {
		return e.fail("list boxes", err)
	}
	for _, box := range boxes {
		if _, err := fmt.Fprintln(e.stdout, box); err != nil {
			return e.fail("write output", err)
		}
	}
	return exitOK
}

func runAddBox(ctx context.Context, e *env, args []string) int {
	fs := newFlagSet("add-box", e)
	box := fs.String("box", "", "box name")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if err := requireBox(*box); err != nil {
		_, _ = fmt.Fprintln(e.stderr, err)
		return exitUsage
	}
	if err := e.tracker.AddBox(ctx, *box); err != nil {
		return e.fail("add box", err)
	}
	e.logger.Info("box added", "box", *box)
	return exitOK
}

func runMatch(ctx context.Context, e *env, args []string) int {
	fs := newFlagSet("match", e)
	gridPath := fs.String("grid", "", "decoded grid JSON file")
	archive := fs.Bool("archive", false, "archive the scan under the best match")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	grid, err := readGrid(*gridPath)
	if err != nil {
		return e.fail("match", err)
	}
	report, err := e.tracker.IdentifyGrid(ctx, grid)
	if err != nil {
		return e.fail("match", err)
	}
	if !report.Matched {
		return e.fail("match", domain.AmbiguousMatchError{Reason: domain.ErrNoBoxes})
	}
	if *archive {
		key, err := e.tracker.ArchiveScan(ctx, report.BestMatch, grid)
		if err != nil {
			return e.fail("archive scan", err)
		}
		report.ArchiveKey = key
	}
	return e.printJSON(report)
}

func runReconcile(ctx context.Context, e *env, args []string) int {
	fs := newFlagSet("reconcile", e)
	box := fs.String("box", "", "box the grid was scanned from")
	gridPath := fs.String("grid", "", "decoded grid JSON file")
	create := fs.String("create", string(core.CreateBoxRaise), "unknown box policy: raise, ask or create")
	keepRemoved := fs.Bool("keep-removed", false, "leave tubes missing from the scan where they are")
	correct := fs.Bool("correct-rotation", false, "undo a detected box rotation before reconciling")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if err := requireBox(*box); err != nil {
		_, _ = fmt.Fprintln(e.stderr, err)
		return exitUsage
	}
	policy, err := core.ParseCreateBoxPolicy(*create)
	if err != nil {
		_, _ = fmt.Fprintln(e.stderr, err)
		return exitUsage
	}
	grid, err := readGrid(*gridPath)
	if err != nil {
		return e.fail("reconcile", err)
	}
	scanned, err := gridpos.PositionMapFromGrid(grid, e.tracker.Settings().Grid)
	if err != nil {
		return e.fail("reconcile", err)
	}
	if *correct {
		scanned, err = e.correctRotation(ctx, *box, scanned)
		if err != nil {
			return e.fail("correct rotation", err)
		}
	}
	opts := core.DefaultReconcileOptions()
	opts.CreateBox = policy
	opts.UpdateRemoved = !*keepRemoved
	res, err := e.tracker.ReconcileBoxScan(ctx, *box, scanned, opts)
	if err != nil {
		var blocked domain.RuleViolationError
		if errors.As(err, &blocked) {
			for _, v := range blocked.Result.Violations {
				e.logger.Error("rule violation", "rule", v.Rule, "severity", v.Severity, "message", v.Message)
			}
		}
		return e.fail("reconcile", err)
	}
	if res.NeedsDecision() {
		_, _ = fmt.Fprintln(e.stderr, res.Decision.Message, "(rerun with -create create)")
		_ = e.printJSON(res)
		return exitDecision
	}
	return e.printJSON(res)
}

// correctRotation maps scanned back into the stored frame of box when the
// best fit is a quarter turn. Unrotated boxes, boxes with no shared tubes and
// unknown boxes are left as scanned.
func (e *env) correctRotation(ctx context.Context, box string, scanned gridpos.PositionMap) (gridpos.PositionMap, error) {
	drift, err := e.tracker.ComputeBoxRotationDrift(ctx, box, scanned)
	var unknown domain.UnknownBoxError
	if errors.Is(err, domain.ErrNoOverlap) || errors.As(err, &unknown) {
		e.logger.Info("no basis for rotation correction", "box", box, "reason", err)
		return scanned, nil
	}
	if err != nil {
		return nil, err
	}
	if drift.Rotation == 0 {
		// A translation alone is tubes moving within the box, not the box turning.
		return scanned, nil
	}
	e.logger.Info("correcting box rotation", "box", box, "rotation", drift.Rotation, "avg_distance", drift.AvgDistance)
	return e.tracker.CorrectScan(scanned, drift)
}

func runDrift(ctx context.Context, e *env, args []string) int {
	fs := newFlagSet("drift", e)
	box := fs.String("box", "", "box the grid was scanned from")
	gridPath := fs.String("grid", "", "decoded grid JSON file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if err := requireBox(*box); err != nil {
		_, _ = fmt.Fprintln(e.stderr, err)
		return exitUsage
	}
	grid, err := readGrid(*gridPath)
	if err != nil {
		return e.fail("drift", err)
	}
	scanned, err := gridpos.PositionMapFromGrid(grid, e.tracker.Settings().Grid)
	if err != nil {
		return e.fail("drift", err)
	}
	drift, err := e.tracker.ComputeBoxRotationDrift(ctx, *box, scanned)
	if err != nil {
		return e.fail("drift", err)
	}
	return e.printJSON(drift)
}

func runHistory(ctx context.Context, e *env, args []string) int {
	fs := newFlagSet("history", e)
	box := fs.String("box", "", "box name")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if err := requireBox(*box); err != nil {
		_, _ = fmt.Fprintln(e.stderr, err)
		return exitUsage
	}
	archive := e.tracker.Archive()
	if archive == nil {
		return e.fail("history", errors.New("no scan archive configured (blob.driver is none)"))
	}
	scans, err := archive.History(ctx, *box)
	if err != nil {
		return e.fail("history", err)
	}
	for _, info := range scans {
		if _, err := fmt.Fprintf(e.stdout, "%s\t%d\n", info.Key, info.Size); err != nil {
			return e.fail("write output", err)
		}
	}
	return exitOK
}
