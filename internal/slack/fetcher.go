// Package slack fetches thread transcripts from the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	slackapi "github.com/slack-go/slack"
)

// Fetch errors, distinguished so the caller can tell a credential problem
// from a missing thread at a glance.
var (
	// ErrAuth indicates an invalid or expired bot token.
	ErrAuth = errors.New("slack authentication failed")

	// ErrNotFound indicates the channel or thread does not exist, or the
	// bot lacks access to it.
	ErrNotFound = errors.New("slack channel or thread not found")

	// ErrEmptyThread indicates the thread contains no messages at all.
	ErrEmptyThread = errors.New("no messages found in thread")
)

// Message is a single message within a thread, with its author resolved to
// a display name.
type Message struct {
	Author    string
	Text      string
	Timestamp string
}

// Thread is an ordered, chronological transcript plus the channel's display
// name. The channel name is informational only; it never becomes issue
// content.
type Thread struct {
	ChannelName string
	Messages    []Message
}

// Reference names the thread to fetch.
type Reference struct {
	ChannelID string
	ThreadTS  string
}

// api is the subset of the Slack client the Fetcher uses. *slackapi.Client
// satisfies it; tests substitute a scripted fake.
type api interface {
	GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
	GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetUserInfoContext(ctx context.Context, user string) (*slackapi.User, error)
}

// pageSize is the reply count requested per page.
const pageSize = 100

// Fetcher retrieves thread transcripts. It holds no per-thread state; the
// author-name cache lives inside a single FetchThread call.
type Fetcher struct {
	client api
	logger *log.Logger
}

// NewFetcher creates a Fetcher authenticated with the given bot token. The
// http.Client bounds every request; a hung Slack call surfaces as a
// transport error rather than stalling the process.
func NewFetcher(token string, httpClient *http.Client, logger *log.Logger) *Fetcher {
	return &Fetcher{
		client: slackapi.New(token, slackapi.OptionHTTPClient(httpClient)),
		logger: logger,
	}
}

// newFetcherWithAPI is the test seam.
func newFetcherWithAPI(client api, logger *log.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger}
}

// FetchThread retrieves all messages rooted at ref.ThreadTS, paging through
// the replies API until exhausted. Messages come back in the order Slack
// returns them, which is chronological; that order is preserved.
func (f *Fetcher) FetchThread(ctx context.Context, ref Reference) (Thread, error) {
	channelName := f.channelName(ctx, ref.ChannelID)

	raw, err := f.threadMessages(ctx, ref)
	if err != nil {
		return Thread{}, err
	}
	if len(raw) == 0 {
		return Thread{}, ErrEmptyThread
	}

	// Author lookups are cached for this fetch only; threads tend to
	// repeat a handful of participants.
	names := make(map[string]string)
	messages := make([]Message, 0, len(raw))
	for _, m := range raw {
		messages = append(messages, Message{
			Author:    f.authorName(ctx, m.User, names),
			Text:      renderText(m),
			Timestamp: m.Timestamp,
		})
	}

	return Thread{ChannelName: channelName, Messages: messages}, nil
}

// threadMessages pages through conversations.replies. A thread_not_found
// answer falls back to fetching the single referenced message: a message
// that never grew replies is still a valid, root-only thread.
func (f *Fetcher) threadMessages(ctx context.Context, ref Reference) ([]slackapi.Message, error) {
	var all []slackapi.Message
	cursor := ""
	for {
		msgs, hasMore, nextCursor, err := f.client.GetConversationRepliesContext(ctx, &slackapi.GetConversationRepliesParameters{
			ChannelID: ref.ChannelID,
			Timestamp: ref.ThreadTS,
			Limit:     pageSize,
			Cursor:    cursor,
		})
		if err != nil {
			if strings.Contains(err.Error(), "thread_not_found") {
				return f.singleMessage(ctx, ref)
			}
			return nil, mapAPIError(err)
		}
		all = append(all, msgs...)
		if !hasMore || nextCursor == "" {
			return all, nil
		}
		cursor = nextCursor
	}
}

// singleMessage fetches exactly the message at ref.ThreadTS from channel
// history.
func (f *Fetcher) singleMessage(ctx context.Context, ref Reference) ([]slackapi.Message, error) {
	resp, err := f.client.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
		ChannelID: ref.ChannelID,
		Latest:    ref.ThreadTS,
		Oldest:    ref.ThreadTS,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, mapAPIError(err)
	}
	return resp.Messages, nil
}

// channelName resolves the channel's display name. Failure is non-fatal:
// the name is only used for progress output and the analysis prompt.
func (f *Fetcher) channelName(ctx context.Context, channelID string) string {
	info, err := f.client.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		if f.logger != nil {
			f.logger.Printf("could not resolve channel name for %s: %v", channelID, err)
		}
		return "unknown"
	}
	return info.Name
}

// authorName resolves a user ID to a display name through the per-fetch cache.
// A failed lookup degrades to the raw ID.
func (f *Fetcher) authorName(ctx context.Context, userID string, cache map[string]string) string {
	if userID == "" {
		return "Unknown"
	}
	if name, ok := cache[userID]; ok {
		return name
	}

	name := userID
	if user, err := f.client.GetUserInfoContext(ctx, userID); err == nil {
		switch {
		case user.RealName != "":
			name = user.RealName
		case user.Name != "":
			name = user.Name
		}
	} else if f.logger != nil {
		f.logger.Printf("could not resolve user %s: %v", userID, err)
	}

	cache[userID] = name
	return name
}

// renderText folds attachment and file metadata into the message body so
// the analysis sees them as part of the conversation.
func renderText(m slackapi.Message) string {
	var b strings.Builder
	b.WriteString(m.Text)
	for _, att := range m.Attachments {
		if att.Text != "" {
			fmt.Fprintf(&b, "\n[Attachment: %s]", att.Text)
		}
		if att.Title != "" {
			fmt.Fprintf(&b, "\n[Attachment Title: %s]", att.Title)
		}
	}
	for _, file := range m.Files {
		name := file.Name
		if name == "" {
			name = "unnamed"
		}
		mimetype := file.Mimetype
		if mimetype == "" {
			mimetype = "unknown type"
		}
		fmt.Fprintf(&b, "\n[File: %s - %s]", name, mimetype)
	}
	return b.String()
}

// mapAPIError classifies Slack API failures by their error designator.
func mapAPIError(err error) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive"):
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case containsAny(msg, "channel_not_found", "message_not_found", "thread_not_found"):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("slack api: %w", err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
