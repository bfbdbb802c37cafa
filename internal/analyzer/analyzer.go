// Package analyzer turns thread transcripts into structured issue proposals
// using the Groq chat-completions API (OpenAI-compatible).
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrUnavailable indicates the completion request itself failed (network or
// auth). It is the only analyzer error that escapes: malformed model output
// never does, the proposal degrades to defaults instead.
var ErrUnavailable = errors.New("analysis service unavailable")

const (
	groqBaseURL  = "https://api.groq.com/openai/v1"
	defaultModel = "llama-3.1-8b-instant"

	// maxPromptChars bounds how much transcript goes into the prompt.
	maxPromptChars = 4000

	// maxTitleLen bounds proposal titles; Jira summaries get a harder cap
	// at the publish boundary.
	maxTitleLen = 100

	systemPrompt = "You are a helpful assistant that creates Jira issues from Slack discussions. Always respond with valid JSON only."
)

// Analyzer issues one completion request per thread and parses the result
// into an IssueProposal.
type Analyzer struct {
	client openai.Client
	model  string
	logger *log.Logger
}

// New creates an Analyzer against the Groq endpoint. The http.Client bounds
// the completion round-trip.
func New(apiKey, model string, httpClient *http.Client, logger *log.Logger) *Analyzer {
	if model == "" {
		model = defaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(groqBaseURL),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Analyzer{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

// Analyze summarizes the transcript into an IssueProposal. The returned
// bool reports whether the structural fallback was used; it exists for
// logging only. Model output is untrusted: any shape problem yields the
// deterministic fallback proposal rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, transcript, channelName string) (IssueProposal, bool, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(transcript, channelName)),
		},
		Temperature: openai.Float(0.3),
		MaxTokens:   openai.Int(1000),
	})
	if err != nil {
		return IssueProposal{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		if a.logger != nil {
			a.logger.Printf("completion returned no choices, using fallback proposal")
		}
		return FallbackProposal(transcript), true, nil
	}

	proposal, ok := parseProposal(resp.Choices[0].Message.Content)
	if !ok {
		if a.logger != nil {
			a.logger.Printf("completion output did not match the expected schema, using fallback proposal")
		}
		return FallbackProposal(transcript), true, nil
	}
	return proposal, false, nil
}

// buildPrompt renders the analysis instruction around the (bounded)
// transcript.
func buildPrompt(transcript, channelName string) string {
	if channelName == "" {
		channelName = "Unknown"
	}
	return fmt.Sprintf(`Analyze the following Slack discussion and create a Jira issue based on it.

Channel: %s

Slack Thread Content:
---
%s
---

Based on this discussion, provide a JSON response with:
1. "title": A concise, descriptive title for the Jira issue (max 100 chars)
2. "summary": A detailed description capturing the problem, context, and any solutions discussed. Use Jira markup (* for bullets, *bold* for emphasis, h3. for headers)
3. "issue_type": One of: Bug, Task, Story, Improvement
4. "priority": One of: Blocker, Critical, Major, Minor, Trivial

Respond with ONLY valid JSON, no markdown, no explanation:`, channelName, truncate(transcript, maxPromptChars))
}
