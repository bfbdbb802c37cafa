package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mkellner/slack2jira/internal/converter"
)

// outcomeJSON is the machine-parseable rendering of a conversion outcome.
type outcomeJSON struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`
	DryRun  bool   `json:"dry_run,omitempty"`

	IssueKey     string `json:"issue_key,omitempty"`
	IssueURL     string `json:"issue_url,omitempty"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
	CommentAdded bool   `json:"comment_added,omitempty"`

	Project     string `json:"project,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`
	Priority    string `json:"priority,omitempty"`

	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func toJSON(o converter.Outcome) outcomeJSON {
	out := outcomeJSON{
		RunID:   o.RunID,
		Success: o.Success,
		DryRun:  o.DryRun,
		Project: o.ProjectKey,
		Stage:   string(o.Stage),
		Reason:  o.Reason,
	}
	if o.Proposal != nil {
		out.Title = o.Proposal.Title
		out.Description = o.Proposal.Description
		out.IssueType = string(o.Proposal.IssueType)
		out.Priority = string(o.Proposal.Priority)
	}
	if o.Result != nil {
		out.IssueKey = o.Result.IssueKey
		out.IssueURL = o.Result.IssueURL
		out.UsedFallback = o.Result.UsedFallback
		out.CommentAdded = o.Result.CommentAdded
	}
	return out
}

func writeJSON(w io.Writer, o converter.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSON(o))
}

// writeHuman renders the terminal outcome. Progress narration has already
// been printed step by step; this is the summary block.
func writeHuman(w io.Writer, o converter.Outcome) {
	switch {
	case o.DryRun:
		fmt.Fprintln(w, "\nDRY RUN - would create issue:")
		fmt.Fprintf(w, "  Project:  %s\n", o.ProjectKey)
		fmt.Fprintf(w, "  Type:     %s\n", o.Proposal.IssueType)
		fmt.Fprintf(w, "  Priority: %s\n", o.Proposal.Priority)
		fmt.Fprintf(w, "  Title:    %s\n", o.Proposal.Title)
		if o.Proposal.Description != "" {
			fmt.Fprintf(w, "\n%s\n", o.Proposal.Description)
		}
	case o.Success:
		fmt.Fprintf(w, "\nCreated %s\n", o.Result.IssueKey)
		fmt.Fprintf(w, "  URL: %s\n", o.Result.IssueURL)
		if o.Result.UsedFallback {
			fmt.Fprintln(w, "  Note: field restrictions applied; details were added as a comment")
		}
	default:
		fmt.Fprintf(w, "\nConversion failed during %s: %s\n", o.Stage, o.Reason)
	}
}
