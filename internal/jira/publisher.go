// Package jira creates tracker issues from analyzed proposals, degrading to
// a minimal field set when the target project restricts fields.
package jira

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"

	"github.com/mkellner/slack2jira/internal/analyzer"
)

// Publish failure classes, distinguished so the operator can tell a bad
// token from a missing project permission.
var (
	// ErrAuth indicates the API token was rejected.
	ErrAuth = errors.New("jira authentication failed")

	// ErrPermission indicates the authenticated account may not create
	// issues in the target project.
	ErrPermission = errors.New("jira permission denied")
)

// maxSummaryLen is Jira's hard cap on the summary field.
const maxSummaryLen = 255

// PublishResult describes the created issue and which path created it.
type PublishResult struct {
	IssueKey     string
	IssueURL     string
	UsedFallback bool
	CommentAdded bool
}

// Publisher creates issues over the Jira REST API using bearer-token auth.
type Publisher struct {
	client  *jira.Client
	baseURL string
	logger  *log.Logger
}

// NewPublisher builds a Publisher for the given Jira server. The timeout
// bounds every request round-trip.
func NewPublisher(baseURL, token string, timeout time.Duration, logger *log.Logger) (*Publisher, error) {
	transport := jira.BearerAuthTransport{Token: token}
	httpClient := transport.Client()
	httpClient.Timeout = timeout

	client, err := jira.NewClient(httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("creating jira client: %w", err)
	}

	return &Publisher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Publish creates an issue for the proposal in the given project. It first
// attempts the full field set; if the tracker rejects it because fields are
// locked down for the project's workflow, it retries once with only the
// mandatory fields and reconciles the dropped content through a comment.
// There is no backoff: one attempt per tier.
func (p *Publisher) Publish(ctx context.Context, proposal analyzer.IssueProposal, projectKey, sourceLink string) (PublishResult, error) {
	description := buildDescription(proposal.Description, sourceLink)

	fields := &jira.IssueFields{
		Project:     jira.Project{Key: projectKey},
		Type:        jira.IssueType{Name: string(proposal.IssueType)},
		Summary:     truncate(proposal.Title, maxSummaryLen),
		Description: description,
	}
	if proposal.Priority != "" {
		fields.Priority = &jira.Priority{Name: string(proposal.Priority)}
	}

	issue, resp, err := p.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err == nil {
		return PublishResult{
			IssueKey: issue.Key,
			IssueURL: p.browseURL(issue.Key),
		}, nil
	}

	err = enrich(resp, err)
	if !isFieldRestricted(err) {
		return PublishResult{}, fmt.Errorf("creating issue: %w", classify(err))
	}

	if p.logger != nil {
		p.logger.Printf("standard fields restricted for project %s, using minimal creation", projectKey)
	}
	return p.publishMinimal(ctx, proposal, projectKey, description)
}

// publishMinimal creates the issue with only project, type and summary,
// then posts the dropped detail as a comment so nothing is lost.
func (p *Publisher) publishMinimal(ctx context.Context, proposal analyzer.IssueProposal, projectKey, description string) (PublishResult, error) {
	fields := &jira.IssueFields{
		Project: jira.Project{Key: projectKey},
		Type:    jira.IssueType{Name: string(proposal.IssueType)},
		Summary: truncate(proposal.Title, maxSummaryLen),
	}

	issue, resp, err := p.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return PublishResult{}, fmt.Errorf("minimal issue creation failed: %w", classify(enrich(resp, err)))
	}

	result := PublishResult{
		IssueKey:     issue.Key,
		IssueURL:     p.browseURL(issue.Key),
		UsedFallback: true,
	}

	comment := "h3. " + proposal.Title + "\n\n" + description
	if proposal.Priority != "" {
		comment += "\n\n*Suggested Priority:* " + string(proposal.Priority)
	}

	// The issue already exists; a comment failure degrades the result
	// instead of failing the publish.
	if _, cresp, cerr := p.client.Issue.AddCommentWithContext(ctx, issue.ID, &jira.Comment{Body: comment}); cerr != nil {
		if p.logger != nil {
			p.logger.Printf("could not add detail comment to %s: %v", issue.Key, enrich(cresp, cerr))
		}
	} else {
		result.CommentAdded = true
	}

	return result, nil
}

func (p *Publisher) browseURL(key string) string {
	return p.baseURL + "/browse/" + key
}

// buildDescription appends the source-thread backlink to the proposal's
// description.
func buildDescription(description, sourceLink string) string {
	if sourceLink == "" {
		return description
	}
	backlink := "*Source:* Created from Slack discussion: " + sourceLink
	if description == "" {
		return backlink
	}
	return description + "\n\n----\n" + backlink
}

// enrich folds the response body into the error; Jira's body text usually
// names the exact field or permission at fault.
func enrich(resp *jira.Response, err error) error {
	if resp == nil {
		return err
	}
	return jira.NewJiraError(resp, err)
}

// isFieldRestricted reports whether the tracker rejected the create because
// fields are not available on the project's create screen.
func isFieldRestricted(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cannot be set") ||
		strings.Contains(msg, "not on the appropriate screen")
}

// classify tags authentication and permission failures so the failure
// reason is actionable.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "permission") || strings.Contains(msg, "anonymous users"):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
