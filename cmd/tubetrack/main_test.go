package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tubetrack/internal/core"
	"tubetrack/pkg/transform"
)

const boxesCSV = "boxname\nbox1\nbox2\n"

const tubesCSV = `boxname,barcode,pos
box1,First,A01
box1,Second,A02
box1,Third,B01
box2,Fourth,A01
box2,Fifth,A02
`

type workspace struct {
	dir    string
	config string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// newWorkspace seeds a csv datastore for user lab and a config file pointing
// at it. blobDriver selects the scan archive.
func newWorkspace(t *testing.T, blobDriver string) workspace {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	if err := os.MkdirAll(data, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(data, "lab_boxes.csv"), boxesCSV)
	writeFile(t, filepath.Join(data, "lab_tubes.csv"), tubesCSV)
	cfg := strings.Join([]string{
		"username: lab",
		"storage:",
		"  driver: csv",
		"  csv_root: " + data,
		"blob:",
		"  driver: " + blobDriver,
		"  fs_root: " + filepath.Join(dir, "scans"),
		"scanner:",
		"  rows: 2",
		"  cols: 2",
		"",
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, cfg)
	return workspace{dir: dir, config: path}
}

func (w workspace) grid(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	writeFile(t, path, content)
	return path
}

func (w workspace) tubes(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(w.dir, "data", "lab_tubes.csv"))
	if err != nil {
		t.Fatalf("read tubes: %v", err)
	}
	return string(data)
}

func (w workspace) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := cli(append([]string{"-config", w.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLIUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if !strings.Contains(stderr.String(), "reconcile") {
		t.Fatalf("expected command list in usage, got %q", stderr.String())
	}
	stderr.Reset()
	if code := cli([]string{"nope"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit for unknown command, got %d", code)
	}
	if code := cli([]string{"-bogus"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit for unknown flag, got %d", code)
	}
}

func TestCLIInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "storage:\n  driver: floppy\n")
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", path, "boxes"}, &stdout, &stderr); code != exitError {
		t.Fatalf("expected error exit, got %d", code)
	}
	if !strings.Contains(stderr.String(), "storage.driver") {
		t.Fatalf("expected field in error, got %q", stderr.String())
	}
}

func TestCLIBoxesAndAddBox(t *testing.T) {
	w := newWorkspace(t, "none")
	code, out, errOut := w.run("boxes")
	if code != exitOK {
		t.Fatalf("boxes: exit %d: %s", code, errOut)
	}
	if out != "box1\nbox2\n" {
		t.Fatalf("unexpected boxes %q", out)
	}
	if code, _, errOut := w.run("add-box", "-box", "box3"); code != exitOK {
		t.Fatalf("add-box: exit %d: %s", code, errOut)
	}
	if _, out, _ := w.run("boxes"); out != "box1\nbox2\nbox3\n" {
		t.Fatalf("expected box3 persisted, got %q", out)
	}
	code, _, errOut = w.run("add-box", "-box", "box3")
	if code != exitError || !strings.Contains(errOut, "already exists") {
		t.Fatalf("expected duplicate error, got %d %q", code, errOut)
	}
	if code, _, _ := w.run("add-box"); code != exitUsage {
		t.Fatalf("expected usage exit without -box, got %d", code)
	}
}

func TestCLIMatchArchivesAndHistory(t *testing.T) {
	w := newWorkspace(t, "fs")
	grid := w.grid(t, "scan.json", `[["First","Second"],["Third",null]]`)
	code, out, errOut := w.run("match", "-grid", grid, "-archive")
	if code != exitOK {
		t.Fatalf("match: exit %d: %s", code, errOut)
	}
	var report core.ScanReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if !report.Matched || report.BestMatch != "box1" {
		t.Fatalf("expected box1, got %+v", report)
	}
	if report.BestDiff == nil || strings.Join(report.BestDiff.Common.Sorted(), ",") != "First,Second,Third" || len(report.BestDiff.Added)+len(report.BestDiff.Removed) != 0 {
		t.Fatalf("unexpected best diff %+v", report.BestDiff)
	}
	if !strings.HasPrefix(report.ArchiveKey, "scans/box1/") {
		t.Fatalf("unexpected archive key %q", report.ArchiveKey)
	}
	code, out, errOut = w.run("history", "-box", "box1")
	if code != exitOK {
		t.Fatalf("history: exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, report.ArchiveKey+"\t") {
		t.Fatalf("expected archived scan in history, got %q", out)
	}
}

func TestCLIHistoryWithoutArchive(t *testing.T) {
	w := newWorkspace(t, "none")
	code, _, errOut := w.run("history", "-box", "box1")
	if code != exitError || !strings.Contains(errOut, "no scan archive") {
		t.Fatalf("expected missing archive error, got %d %q", code, errOut)
	}
}

func TestCLIMatchWithoutBoxes(t *testing.T) {
	w := newWorkspace(t, "none")
	writeFile(t, filepath.Join(w.dir, "data", "lab_boxes.csv"), "boxname\n")
	writeFile(t, filepath.Join(w.dir, "data", "lab_tubes.csv"), "boxname,barcode,pos\n")
	grid := w.grid(t, "scan.json", `[["First",null],[null,null]]`)
	code, _, errOut := w.run("match", "-grid", grid)
	if code != exitError || !strings.Contains(errOut, "no boxes") {
		t.Fatalf("expected no boxes error, got %d %q", code, errOut)
	}
	if code, _, _ := w.run("match"); code != exitError {
		t.Fatalf("expected error without -grid, got %d", code)
	}
}

func TestCLIReconcile(t *testing.T) {
	w := newWorkspace(t, "none")
	// Second moved to B02, Third left the box and New arrived.
	grid := w.grid(t, "scan.json", `[["First","New"],[null,"Second"]]`)
	code, out, errOut := w.run("reconcile", "-box", "box1", "-grid", grid)
	if code != exitOK {
		t.Fatalf("reconcile: exit %d: %s", code, errOut)
	}
	var res core.ReconcileResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	if strings.Join(res.Removed, ",") != "Third" || strings.Join(res.Moved, ",") != "Second" || strings.Join(res.Inserted, ",") != "New" {
		t.Fatalf("unexpected result %+v", res)
	}
	want := "boxname,barcode,pos\nbox1,First,A01\nbox1,Second,B02\n(missing),Third,N/A\nbox2,Fourth,A01\nbox2,Fifth,A02\nbox1,New,A02\n"
	if got := w.tubes(t); got != want {
		t.Fatalf("unexpected tubes table:\n%s", got)
	}
}

func TestCLIReconcileKeepRemoved(t *testing.T) {
	w := newWorkspace(t, "none")
	grid := w.grid(t, "scan.json", `[["First","Second"],[null,null]]`)
	if code, _, errOut := w.run("reconcile", "-box", "box1", "-grid", grid, "-keep-removed"); code != exitOK {
		t.Fatalf("reconcile: exit %d: %s", code, errOut)
	}
	if !strings.Contains(w.tubes(t), "box1,Third,B01") {
		t.Fatalf("expected Third kept in place:\n%s", w.tubes(t))
	}
}

func TestCLIReconcileUnknownBox(t *testing.T) {
	w := newWorkspace(t, "none")
	grid := w.grid(t, "scan.json", `[["Sixth",null],[null,null]]`)
	code, _, errOut := w.run("reconcile", "-box", "box9", "-grid", grid)
	if code != exitError || !strings.Contains(errOut, "box9") {
		t.Fatalf("expected unknown box error, got %d %q", code, errOut)
	}
	code, out, _ := w.run("reconcile", "-box", "box9", "-grid", grid, "-create", "ask")
	if code != exitDecision || !strings.Contains(out, `"create_box"`) {
		t.Fatalf("expected decision exit, got %d %q", code, out)
	}
	if strings.Contains(w.tubes(t), "Sixth") {
		t.Fatal("ask policy must not write tubes")
	}
	if code, _, errOut := w.run("reconcile", "-box", "box9", "-grid", grid, "-create", "create"); code != exitOK {
		t.Fatalf("create policy: exit %d: %s", code, errOut)
	}
	if !strings.Contains(w.tubes(t), "box9,Sixth,A01") {
		t.Fatalf("expected Sixth in box9:\n%s", w.tubes(t))
	}
	if _, out, _ := w.run("boxes"); !strings.Contains(out, "box9") {
		t.Fatalf("expected box9 created, got %q", out)
	}
	if code, _, _ := w.run("reconcile", "-box", "box1", "-grid", grid, "-create", "maybe"); code != exitUsage {
		t.Fatalf("expected usage exit for bad policy, got %d", code)
	}
}

func TestCLIDriftAndCorrectRotation(t *testing.T) {
	w := newWorkspace(t, "none")
	// box1 turned a quarter: A01 First, A02 Second, B01 Third as stored.
	grid := w.grid(t, "scan.json", `[["Second",null],["First","Third"]]`)
	code, out, errOut := w.run("drift", "-box", "box1", "-grid", grid)
	if code != exitOK {
		t.Fatalf("drift: exit %d: %s", code, errOut)
	}
	var drift transform.RotationResult
	if err := json.Unmarshal([]byte(out), &drift); err != nil {
		t.Fatalf("decode drift: %v\n%s", err, out)
	}
	if drift.Rotation == 0 || !drift.Perfect() {
		t.Fatalf("expected a perfect non-zero rotation, got %+v", drift)
	}
	code, out, errOut = w.run("reconcile", "-box", "box1", "-grid", grid, "-correct-rotation")
	if code != exitOK {
		t.Fatalf("reconcile: exit %d: %s", code, errOut)
	}
	var res core.ReconcileResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Moved) != 0 || len(res.Removed) != 0 || len(res.Unchanged) != 3 {
		t.Fatalf("expected corrected scan to match storage, got %+v", res)
	}
	if got := w.tubes(t); got != tubesCSV {
		t.Fatalf("expected tubes unchanged:\n%s", got)
	}
}

func TestCLICorrectRotationLeavesUnrotatedScan(t *testing.T) {
	w := newWorkspace(t, "none")
	// Only Third moved, one column right.
	grid := w.grid(t, "scan.json", `[["First","Second"],[null,"Third"]]`)
	code, out, errOut := w.run("reconcile", "-box", "box1", "-grid", grid, "-correct-rotation")
	if code != exitOK {
		t.Fatalf("reconcile: exit %d: %s", code, errOut)
	}
	var res core.ReconcileResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if strings.Join(res.Moved, ",") != "Third" || len(res.Unchanged) != 2 {
		t.Fatalf("expected only Third moved, got %+v", res)
	}
	tubes := w.tubes(t)
	if !strings.Contains(tubes, "box1,Third,B02") || strings.Contains(tubes, "00") {
		t.Fatalf("unexpected tubes table:\n%s", tubes)
	}
}

func TestCLIAuditLog(t *testing.T) {
	w := newWorkspace(t, "none")
	audit := filepath.Join(w.dir, "audit.jsonl")
	if code, _, errOut := w.run("-audit", audit, "add-box", "-box", "box5"); code != exitOK {
		t.Fatalf("add-box: exit %d: %s", code, errOut)
	}
	// Global flags must precede the command.
	if code, _, _ := w.run("add-box", "-box", "box6", "-audit", audit); code != exitUsage {
		t.Fatalf("expected usage exit for misplaced flag, got %d", code)
	}
	data, err := os.ReadFile(audit)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(data), `"add_box"`) || !strings.Contains(string(data), "box5") {
		t.Fatalf("unexpected audit log %q", data)
	}
}

func TestCLIMetricsAndTraceFiles(t *testing.T) {
	w := newWorkspace(t, "none")
	metrics := filepath.Join(w.dir, "tubetrack.prom")
	trace := filepath.Join(w.dir, "trace.jsonl")
	if err := os.WriteFile(metrics, []byte("stale"), 0o600); err != nil {
		t.Fatalf("seed metrics file: %v", err)
	}
	if code, _, errOut := w.run("-metrics", metrics, "-trace", trace, "add-box", "-box", "box5"); code != exitOK {
		t.Fatalf("add-box: exit %d: %s", code, errOut)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if strings.Contains(string(data), "stale") {
		t.Fatalf("expected metrics file to be replaced, got %q", data)
	}
	if !strings.Contains(string(data), `tubetrack_operations_total{operation="add_box",status="success"} 1`) {
		t.Fatalf("unexpected metrics %q", data)
	}
	spans, err := os.ReadFile(trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(spans), `"operation":"add_box"`) || !strings.Contains(string(spans), `"status":"success"`) {
		t.Fatalf("unexpected trace %q", spans)
	}
}

func TestCLITraceFileUnwritable(t *testing.T) {
	w := newWorkspace(t, "none")
	trace := filepath.Join(w.dir, "missing", "trace.jsonl")
	if code, _, errOut := w.run("-trace", trace, "boxes"); code != exitError || !strings.Contains(errOut, "open trace log") {
		t.Fatalf("expected error exit, got %d: %s", code, errOut)
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	oldExit, oldArgs := exitFunc, os.Args
	defer func() { exitFunc, os.Args = oldExit, oldArgs }()
	got := -1
	exitFunc = func(code int) { got = code }
	os.Args = []string{"tubetrack"}
	main()
	if got != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, got)
	}
}
