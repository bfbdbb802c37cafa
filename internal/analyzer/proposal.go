package analyzer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mkellner/slack2jira/internal/slack"
)

// IssueType is a Jira issue type name.
type IssueType string

// Issue types the analyzer is allowed to suggest.
const (
	IssueTypeBug         IssueType = "Bug"
	IssueTypeTask        IssueType = "Task"
	IssueTypeStory       IssueType = "Story"
	IssueTypeImprovement IssueType = "Improvement"
)

// Priority is a Jira priority name.
type Priority string

// Priorities the analyzer is allowed to suggest.
const (
	PriorityBlocker  Priority = "Blocker"
	PriorityCritical Priority = "Critical"
	PriorityMajor    Priority = "Major"
	PriorityMinor    Priority = "Minor"
	PriorityTrivial  Priority = "Trivial"
)

// Defaults used when the model suggests nothing recognizable.
const (
	DefaultIssueType = IssueTypeTask
	DefaultPriority  = PriorityMajor
)

// IssueProposal is the structured summary of a thread: what the issue
// should be called, say, and be filed as. Title is always non-empty and at
// most 100 characters; Description may be empty.
type IssueProposal struct {
	Title       string
	Description string
	IssueType   IssueType
	Priority    Priority
}

var issueTypes = []IssueType{IssueTypeBug, IssueTypeTask, IssueTypeStory, IssueTypeImprovement}

var priorities = []Priority{PriorityBlocker, PriorityCritical, PriorityMajor, PriorityMinor, PriorityTrivial}

// ParseIssueType matches s against the permitted issue types,
// case-insensitively.
func ParseIssueType(s string) (IssueType, bool) {
	for _, t := range issueTypes {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// ParsePriority matches s against the permitted priorities,
// case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range priorities {
		if strings.EqualFold(s, string(p)) {
			return p, true
		}
	}
	return "", false
}

// NormalizeIssueType maps s onto the permitted set, falling back to
// DefaultIssueType for anything unrecognized.
func NormalizeIssueType(s string) IssueType {
	if t, ok := ParseIssueType(s); ok {
		return t
	}
	return DefaultIssueType
}

// NormalizePriority maps s onto the permitted set, falling back to
// DefaultPriority for anything unrecognized.
func NormalizePriority(s string) Priority {
	if p, ok := ParsePriority(s); ok {
		return p
	}
	return DefaultPriority
}

// codeFencePattern strips markdown code fences the model sometimes wraps
// its JSON in despite instructions.
var codeFencePattern = regexp.MustCompile("```(?:json)?\\s*")

// rawProposal is the wire shape the model is asked for.
type rawProposal struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	IssueType string `json:"issue_type"`
	Priority  string `json:"priority"`
}

// parseProposal extracts an IssueProposal from free-form model output. The
// ok result is false when no usable JSON object with a title and summary
// could be recovered.
func parseProposal(content string) (IssueProposal, bool) {
	cleaned := codeFencePattern.ReplaceAllString(content, "")

	// Take the outermost {...} span; the model may bury the object in
	// prose.
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return IssueProposal{}, false
	}

	var raw rawProposal
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return IssueProposal{}, false
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" || strings.TrimSpace(raw.Summary) == "" {
		return IssueProposal{}, false
	}

	return IssueProposal{
		Title:       truncate(title, maxTitleLen),
		Description: raw.Summary,
		IssueType:   NormalizeIssueType(raw.IssueType),
		Priority:    NormalizePriority(raw.Priority),
	}, true
}

// FallbackProposal derives a deterministic proposal straight from the
// transcript. It is used when the model's output is unusable and when the
// completion service is unreachable; the pipeline never aborts on either.
func FallbackProposal(transcript string) IssueProposal {
	first := ""
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		first = line
		break
	}
	if first == "" {
		first = "Slack Discussion"
	}

	return IssueProposal{
		Title:       truncate("Issue from Slack: "+truncate(first, 80), maxTitleLen),
		Description: "h3. Slack Discussion\n\n" + truncate(transcript, maxPromptChars) + "\n\n----\n_Note: Auto-generated from Slack thread._",
		IssueType:   DefaultIssueType,
		Priority:    DefaultPriority,
	}
}

// FormatTranscript renders the thread as "[time] author:\ntext" blocks, in
// order. The ordering matters: it is how the model sees cause and
// resolution within the discussion.
func FormatTranscript(messages []slack.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[" + formatTimestamp(m.Timestamp) + "] " + m.Author + ":\n" + m.Text + "\n")
	}
	return b.String()
}

// formatTimestamp renders a Slack "seconds.fraction" timestamp as a
// human-readable UTC time. Unparsable input is kept verbatim.
func formatTimestamp(ts string) string {
	seconds := ts
	if dot := strings.IndexByte(ts, '.'); dot >= 0 {
		seconds = ts[:dot]
	}
	unix, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil || unix == 0 {
		return ts
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// truncate caps s at n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
