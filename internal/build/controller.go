package build

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/fixlimit/internal/common"
	"github.com/ternarybob/fixlimit/internal/interfaces"
	"github.com/ternarybob/fixlimit/internal/models"
)

// State is a retry controller state
type State int

const (
	StateRunning State = iota
	StateSuccess
	StateUnrelatedFailure
	StateFatalError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateUnrelatedFailure:
		return "unrelated_failure"
	case StateFatalError:
		return "fatal_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OutcomeKind classifies a single finished build
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeLimitExceeded
	OutcomeUnrelated
)

// Outcome is the classified result of one build. Limit is set only for OutcomeLimitExceeded.
type Outcome struct {
	Kind   OutcomeKind
	Limit  string
	Stderr string
}

// Classify decodes the error output of a build and decides how the loop continues.
// Error output that is not valid UTF-8 is returned as ErrStderrNotText.
func Classify(res Result) (Outcome, error) {
	if res.Success {
		return Outcome{Kind: OutcomeSuccess}, nil
	}
	if !utf8.Valid(res.Stderr) {
		return Outcome{}, ErrStderrNotText
	}
	stderr := string(res.Stderr)
	if limit, ok := ExtractLimit(stderr); ok {
		return Outcome{Kind: OutcomeLimitExceeded, Limit: limit, Stderr: stderr}, nil
	}
	return Outcome{Kind: OutcomeUnrelated, Stderr: stderr}, nil
}

// SourcePatcher applies a new limit to the target source file
type SourcePatcher interface {
	Patch(limit string) (PatchResult, error)
}

// Summary describes a finished controller run
type Summary struct {
	RunID    string
	State    State
	Attempts int // Number of builds invoked
	Patches  []PatchResult
}

// Controller drives the build, extract, patch loop
type Controller struct {
	runner      Runner
	patcher     SourcePatcher
	reporter    *Reporter
	history     interfaces.PatchHistoryStorage
	logger      arbor.ILogger
	runID       string
	maxAttempts int
}

// Option configures a Controller
type Option func(*Controller)

// WithHistory records every applied patch in storage
func WithHistory(storage interfaces.PatchHistoryStorage) Option {
	return func(c *Controller) { c.history = storage }
}

// WithMaxAttempts caps the number of builds. Zero or negative means unbounded.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) { c.maxAttempts = n }
}

// WithRunID sets the correlation ID used for logs and history
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// NewController creates a retry controller
func NewController(runner Runner, patcher SourcePatcher, reporter *Reporter, logger arbor.ILogger, opts ...Option) *Controller {
	c := &Controller{
		runner:   runner,
		patcher:  patcher,
		reporter: reporter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = common.NewRunID()
	}
	c.logger = logger.WithCorrelationId(c.runID)
	return c
}

// Run builds until the build succeeds, fails for an unrelated reason, or an
// infrastructure error occurs. Infrastructure errors are returned with
// Summary.State set to StateFatalError.
func (c *Controller) Run(ctx context.Context, inv Invocation) (Summary, error) {
	summary := Summary{RunID: c.runID, State: StateRunning}

	for summary.State == StateRunning {
		if c.maxAttempts > 0 && summary.Attempts >= c.maxAttempts {
			summary.State = StateFatalError
			return summary, fmt.Errorf("%w: %d", ErrAttemptsExhausted, c.maxAttempts)
		}

		summary.Attempts++
		c.reporter.Logf("Running: %s", inv.String())

		res, err := c.runner.Run(ctx, inv)
		if err != nil {
			summary.State = StateFatalError
			return summary, err
		}

		outcome, err := Classify(res)
		if err != nil {
			summary.State = StateFatalError
			return summary, err
		}

		switch outcome.Kind {
		case OutcomeSuccess:
			c.reporter.Log("Build was successful.")
			summary.State = StateSuccess

		case OutcomeUnrelated:
			c.reporter.Logf("Build failed with:\n%s", outcome.Stderr)
			c.reporter.Log("Build error was not type length limit error.")
			c.logger.Info().
				Int("attempt", summary.Attempts).
				Int("exit_code", res.ExitCode).
				Msg("Build failed for an unrelated reason")
			summary.State = StateUnrelatedFailure

		case OutcomeLimitExceeded:
			c.reporter.Logf("Build failed with:\n%s", outcome.Stderr)
			patch, err := c.patcher.Patch(outcome.Limit)
			if err != nil {
				summary.State = StateFatalError
				return summary, fmt.Errorf("replacing code failed: %w", err)
			}
			summary.Patches = append(summary.Patches, patch)
			c.recordPatch(ctx, summary.Attempts, inv, patch)
			c.logger.Info().
				Int("attempt", summary.Attempts).
				Str("target", patch.Path).
				Str("previous", patch.Previous).
				Str("limit", patch.Limit).
				Msg("Raised type_length_limit")
			c.reporter.Log("Fixed type length limit error. Retrying build.")
		}
	}

	return summary, nil
}

// recordPatch stores the patch in history. Storage failures are logged, not returned.
func (c *Controller) recordPatch(ctx context.Context, attempt int, inv Invocation, patch PatchResult) {
	if c.history == nil {
		return
	}
	record := &models.PatchRecord{
		RunID:     c.runID,
		Iteration: attempt,
		Command:   inv.String(),
		Target:    patch.Path,
		Previous:  patch.Previous,
		Limit:     patch.Limit,
		Action:    string(patch.Action),
		PatchedAt: time.Now(),
	}
	if err := c.history.SavePatch(ctx, record); err != nil {
		c.logger.Warn().Err(err).Str("target", patch.Path).Msg("Failed to record patch history")
	}
}
