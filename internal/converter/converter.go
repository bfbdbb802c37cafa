// Package converter sequences the conversion pipeline: resolve the thread
// URL, fetch the transcript, analyze it into a proposal, publish the issue.
//
// Each invocation is independent and best-effort. No dedup key is derived
// from thread identity: converting the same thread twice intentionally
// creates two distinct issues.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/mkellner/slack2jira/internal/analyzer"
	"github.com/mkellner/slack2jira/internal/jira"
	"github.com/mkellner/slack2jira/internal/slack"
	"github.com/mkellner/slack2jira/internal/slackurl"
)

// Stage names one of the four pipeline stages, for failure reporting.
type Stage string

// Pipeline stages in execution order.
const (
	StageResolve Stage = "resolve"
	StageFetch   Stage = "fetch"
	StageAnalyze Stage = "analyze"
	StagePublish Stage = "publish"
)

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ThreadFetcher retrieves a thread transcript.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, ref slack.Reference) (slack.Thread, error)
}

// Analyzer summarizes a transcript into an issue proposal.
type Analyzer interface {
	Analyze(ctx context.Context, transcript, channelName string) (analyzer.IssueProposal, bool, error)
}

// Publisher creates the tracker issue.
type Publisher interface {
	Publish(ctx context.Context, proposal analyzer.IssueProposal, projectKey, sourceLink string) (jira.PublishResult, error)
}

// Progress receives human-facing pipeline narration. The JSON rendering
// installs a no-op sink and stays silent until the terminal outcome.
type Progress interface {
	Step(format string, args ...interface{})
}

// NopProgress discards all narration.
type NopProgress struct{}

// Step implements Progress.
func (NopProgress) Step(string, ...interface{}) {}

// Request is one conversion invocation.
type Request struct {
	URL        string
	ProjectKey string // overrides the configured default when set
	IssueType  string // overrides the analyzer's suggestion when set
	DryRun     bool
}

// Outcome is the single external-facing result of a conversion. Exactly one
// of the three shapes is populated: a publish result, a dry-run proposal, or
// a failure tagged with its stage.
type Outcome struct {
	RunID   string
	Success bool
	DryRun  bool

	// Populated on successful publish.
	Result *jira.PublishResult

	// Populated on success and dry run.
	Proposal   *analyzer.IssueProposal
	ProjectKey string

	// Populated on failure.
	Stage  Stage
	Reason string
}

// Defaults carries configured fallbacks applied when the request leaves
// them unset.
type Defaults struct {
	ProjectKey string
	IssueType  string
}

// Converter is the orchestrator. Dependencies are injected at construction
// so every stage can be exercised with fakes.
type Converter struct {
	fetcher   ThreadFetcher
	analyzer  Analyzer
	publisher Publisher
	defaults  Defaults
	progress  Progress
	logger    *log.Logger
}

// New creates a Converter. A nil progress sink disables narration.
func New(fetcher ThreadFetcher, an Analyzer, publisher Publisher, defaults Defaults, progress Progress, logger *log.Logger) *Converter {
	if progress == nil {
		progress = NopProgress{}
	}
	return &Converter{
		fetcher:   fetcher,
		analyzer:  an,
		publisher: publisher,
		defaults:  defaults,
		progress:  progress,
		logger:    logger,
	}
}

// Convert runs the pipeline once, strictly in order. Resolve and fetch
// failures abort; analysis failures degrade the proposal to
// transcript-derived defaults; publish failures abort after the publisher
// has exhausted its two-tier field strategy.
func (c *Converter) Convert(ctx context.Context, req Request) Outcome {
	out := Outcome{RunID: uuid.New().String()}

	c.progress.Step("Processing Slack URL: %s", req.URL)

	ref, err := slackurl.Parse(req.URL)
	if err != nil {
		return c.fail(out, StageResolve, err)
	}
	c.progress.Step("Resolved channel %s, thread %s", ref.ChannelID, ref.ThreadTS)

	thread, err := c.fetcher.FetchThread(ctx, slack.Reference{ChannelID: ref.ChannelID, ThreadTS: ref.ThreadTS})
	if err != nil {
		return c.fail(out, StageFetch, err)
	}
	c.progress.Step("Fetched %d message(s) from #%s", len(thread.Messages), thread.ChannelName)

	transcript := analyzer.FormatTranscript(thread.Messages)

	c.progress.Step("Analyzing thread with Groq")
	proposal, degraded, err := c.analyzer.Analyze(ctx, transcript, thread.ChannelName)
	switch {
	case err != nil:
		// Transport failure of the analysis service is not fatal: the
		// proposal degrades to defaults derived from the transcript.
		c.logf("analysis unavailable, degrading to transcript-derived defaults: %v", err)
		c.progress.Step("Analysis unavailable, using defaults derived from the thread")
		proposal = analyzer.FallbackProposal(transcript)
	case degraded:
		c.logf("analysis output was unusable, fallback proposal substituted")
	}
	c.progress.Step("Proposed %s/%s: %s", proposal.IssueType, proposal.Priority, proposal.Title)

	if req.IssueType != "" {
		proposal.IssueType = analyzer.NormalizeIssueType(req.IssueType)
	}

	out.ProjectKey = req.ProjectKey
	if out.ProjectKey == "" {
		out.ProjectKey = c.defaults.ProjectKey
	}
	out.Proposal = &proposal

	if req.DryRun {
		out.DryRun = true
		out.Success = true
		c.progress.Step("Dry run: issue not created")
		return out
	}

	c.progress.Step("Creating Jira issue in project %s", out.ProjectKey)
	result, err := c.publisher.Publish(ctx, proposal, out.ProjectKey, req.URL)
	if err != nil {
		return c.fail(out, StagePublish, err)
	}
	if result.UsedFallback {
		c.progress.Step("Standard fields were restricted; details added as a comment")
	}
	c.progress.Step("Created %s (%s)", result.IssueKey, result.IssueURL)

	out.Success = true
	out.Result = &result
	return out
}

func (c *Converter) fail(out Outcome, stage Stage, err error) Outcome {
	serr := &StageError{Stage: stage, Err: err}
	c.logf("%v", serr)
	c.progress.Step("Failed during %s: %v", stage, err)
	out.Stage = stage
	out.Reason = err.Error()
	return out
}

func (c *Converter) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Err reconstructs the outcome's failure as an error, nil on success.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &StageError{Stage: o.Stage, Err: errors.New(o.Reason)}
}
