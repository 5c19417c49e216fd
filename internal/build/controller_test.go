package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fixlimit/internal/interfaces"
	"github.com/ternarybob/fixlimit/internal/models"
)

// scriptedRunner returns queued results in order and counts invocations
type scriptedRunner struct {
	results []Result
	err     error
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	r.calls++
	if r.err != nil {
		return Result{}, r.err
	}
	if r.calls > len(r.results) {
		return Result{}, fmt.Errorf("unexpected build #%d", r.calls)
	}
	return r.results[r.calls-1], nil
}

func limitFailure(limit string) Result {
	return Result{
		Success:  false,
		ExitCode: 101,
		Stderr:   []byte(fmt.Sprintf("error: reached the type-length limit\n= note: consider adding a `#![type_length_limit=\"%s\"]` attribute to your crate\n", limit)),
	}
}

// memoryHistory is an in-memory PatchHistoryStorage
type memoryHistory struct {
	records []models.PatchRecord
	err     error
}

var _ interfaces.PatchHistoryStorage = (*memoryHistory)(nil)

func (h *memoryHistory) SavePatch(ctx context.Context, record *models.PatchRecord) error {
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, *record)
	return nil
}

func (h *memoryHistory) ListPatches(ctx context.Context) ([]models.PatchRecord, error) {
	return h.records, nil
}

func (h *memoryHistory) ListPatchesByRun(ctx context.Context, runID string) ([]models.PatchRecord, error) {
	var out []models.PatchRecord
	for _, r := range h.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *memoryHistory) Close() error { return nil }

var cargoBuild = Invocation{Program: "cargo", Args: []string{"build"}}

func newTestController(runner Runner, patcher SourcePatcher, out *bytes.Buffer, opts ...Option) *Controller {
	return NewController(runner, patcher, NewReporter(out), arbor.NewLogger(), opts...)
}

func TestController_BuildSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := writeCrateFile(t, dir, ProgramRoot, "#![type_length_limit = \"64\"]\n")
	runner := &scriptedRunner{results: []Result{{Success: true}}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, summary.State)
	assert.Equal(t, 1, summary.Attempts)
	assert.Empty(t, summary.Patches)
	assert.Equal(t, ">>> Running: cargo build\n>>> Build was successful.\n", out.String())
	assert.Equal(t, "#![type_length_limit = \"64\"]\n", readFile(t, path))
}

func TestController_PatchesAndRetries(t *testing.T) {
	dir := t.TempDir()
	path := writeCrateFile(t, dir, ProgramRoot, "#![type_length_limit = \"64\"]\nfn main() {}\n")
	runner := &scriptedRunner{results: []Result{limitFailure("128"), {Success: true}}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, summary.State)
	assert.Equal(t, 2, runner.calls)
	require.Len(t, summary.Patches, 1)
	assert.Equal(t, "64", summary.Patches[0].Previous)
	assert.Equal(t, "128", summary.Patches[0].Limit)
	assert.Equal(t, "#![type_length_limit = \"128\"]\nfn main() {}\n", readFile(t, path))
	assert.Contains(t, out.String(), ">>> Build failed with:\nerror: reached the type-length limit")
	assert.Contains(t, out.String(), ">>> Fixed type length limit error. Retrying build.\n")
}

func TestController_UnrelatedFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeCrateFile(t, dir, ProgramRoot, "#![type_length_limit = \"64\"]\n")
	runner := &scriptedRunner{results: []Result{{
		Success:  false,
		ExitCode: 101,
		Stderr:   []byte("error[E0425]: cannot find value `x` in this scope\n"),
	}}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	require.NoError(t, err)

	assert.Equal(t, StateUnrelatedFailure, summary.State)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, ">>> Running: cargo build\n"+
		">>> Build failed with:\nerror[E0425]: cannot find value `x` in this scope\n\n"+
		">>> Build error was not type length limit error.\n", out.String())
	assert.Equal(t, "#![type_length_limit = \"64\"]\n", readFile(t, path))
}

func TestController_StderrNotText(t *testing.T) {
	dir := t.TempDir()
	path := writeCrateFile(t, dir, ProgramRoot, "#![type_length_limit = \"64\"]\n")
	runner := &scriptedRunner{results: []Result{{
		Success: false,
		Stderr:  append([]byte(`type_length_limit = "128" `), 0xff, 0xfe),
	}}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	require.ErrorIs(t, err, ErrStderrNotText)

	assert.Equal(t, StateFatalError, summary.State)
	assert.Empty(t, summary.Patches)
	assert.Equal(t, "#![type_length_limit = \"64\"]\n", readFile(t, path))
}

func TestController_IncreasingLimits(t *testing.T) {
	dir := t.TempDir()
	path := writeCrateFile(t, dir, LibraryRoot, "#![type_length_limit = \"32\"]\n")
	runner := &scriptedRunner{results: []Result{limitFailure("64"), limitFailure("256"), {Success: true}}}
	history := &memoryHistory{}
	var out bytes.Buffer

	controller := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out,
		WithHistory(history), WithRunID("run_test"))
	summary, err := controller.Run(context.Background(), cargoBuild)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, summary.State)
	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, 3, summary.Attempts)
	assert.Equal(t, "run_test", summary.RunID)
	assert.Equal(t, "#![type_length_limit = \"256\"]\n", readFile(t, path))

	require.Len(t, history.records, 2)
	assert.Equal(t, "run_test", history.records[0].RunID)
	assert.Equal(t, 1, history.records[0].Iteration)
	assert.Equal(t, "32", history.records[0].Previous)
	assert.Equal(t, "64", history.records[0].Limit)
	assert.Equal(t, 2, history.records[1].Iteration)
	assert.Equal(t, "64", history.records[1].Previous)
	assert.Equal(t, "256", history.records[1].Limit)
	assert.Equal(t, "cargo build", history.records[1].Command)
	assert.Equal(t, string(PatchReplaced), history.records[1].Action)
}

func TestController_HistoryFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeCrateFile(t, dir, ProgramRoot, "#![type_length_limit = \"1\"]\n")
	runner := &scriptedRunner{results: []Result{limitFailure("2"), {Success: true}}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out,
		WithHistory(&memoryHistory{err: errors.New("disk full")})).Run(context.Background(), cargoBuild)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, summary.State)
}

func TestController_SpawnFailure(t *testing.T) {
	runner := &scriptedRunner{err: fmt.Errorf("%w: cargo: executable file not found", ErrSpawn)}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", t.TempDir(), MissingInsert, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	require.ErrorIs(t, err, ErrSpawn)
	assert.Equal(t, StateFatalError, summary.State)
	assert.Equal(t, 1, summary.Attempts)
}

func TestController_PatchFailureIsFatal(t *testing.T) {
	// No source file exists, so the patch cannot read its target
	runner := &scriptedRunner{results: []Result{limitFailure("128"), {Success: true}}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", t.TempDir(), MissingInsert, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replacing code failed")
	assert.Equal(t, StateFatalError, summary.State)
	assert.Equal(t, 1, runner.calls, "no retry after a patch failure")
}

// failingPatcher reports a write error for every patch
type failingPatcher struct {
	calls int
}

func (p *failingPatcher) Patch(limit string) (PatchResult, error) {
	p.calls++
	return PatchResult{}, fmt.Errorf("failed to write target file src/main.rs: %w", os.ErrPermission)
}

func TestController_WriteFailureIsFatal(t *testing.T) {
	runner := &scriptedRunner{results: []Result{limitFailure("128"), {Success: true}}}
	patcher := &failingPatcher{}
	var out bytes.Buffer

	summary, err := newTestController(runner, patcher, &out).Run(context.Background(), cargoBuild)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, StateFatalError, summary.State)
	assert.Empty(t, summary.Patches)
	assert.Equal(t, 1, runner.calls, "no retry after a write failure")
	assert.Equal(t, 1, patcher.calls)
	assert.NotContains(t, out.String(), "Retrying build")
}

func TestController_MissingDirectiveFailFast(t *testing.T) {
	dir := t.TempDir()
	writeCrateFile(t, dir, ProgramRoot, "fn main() {}\n")
	runner := &scriptedRunner{results: []Result{limitFailure("128")}}
	var out bytes.Buffer

	_, err := newTestController(runner, NewPatcher("", dir, MissingFail, arbor.NewLogger()), &out).Run(context.Background(), cargoBuild)
	assert.ErrorIs(t, err, ErrDirectiveMissing)
}

func TestController_MaxAttempts(t *testing.T) {
	dir := t.TempDir()
	writeCrateFile(t, dir, ProgramRoot, "#![type_length_limit = \"1\"]\n")
	runner := &scriptedRunner{results: []Result{limitFailure("2"), limitFailure("4"), limitFailure("8")}}
	var out bytes.Buffer

	summary, err := newTestController(runner, NewPatcher("", dir, MissingInsert, arbor.NewLogger()), &out,
		WithMaxAttempts(2)).Run(context.Background(), cargoBuild)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, StateFatalError, summary.State)
	assert.Equal(t, 2, runner.calls)
	assert.Len(t, summary.Patches, 2)
}

func TestClassify(t *testing.T) {
	outcome, err := Classify(Result{Success: true, Stderr: []byte{0xff}})
	require.NoError(t, err, "stderr of a successful build is not decoded")
	assert.Equal(t, OutcomeSuccess, outcome.Kind)

	outcome, err = Classify(limitFailure("4096"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeLimitExceeded, outcome.Kind)
	assert.Equal(t, "4096", outcome.Limit)

	outcome, err = Classify(Result{Stderr: []byte("linker error")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrelated, outcome.Kind)
	assert.Empty(t, outcome.Limit)

	_, err = Classify(Result{Stderr: []byte{0xc3, 0x28}})
	assert.ErrorIs(t, err, ErrStderrNotText)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "success", StateSuccess.String())
	assert.Equal(t, "unrelated_failure", StateUnrelatedFailure.String())
	assert.Equal(t, "fatal_error", StateFatalError.String())
}
