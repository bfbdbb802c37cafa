package slack

import (
	"context"
	"errors"
	"fmt"
	"testing"

	slackapi "github.com/slack-go/slack"
)

// fakeAPI scripts the Slack client methods used by the Fetcher.
type fakeAPI struct {
	pages       [][]slackapi.Message // one entry per replies page
	repliesErr  error
	historyMsgs []slackapi.Message
	historyErr  error
	channel     *slackapi.Channel
	channelErr  error
	users       map[string]*slackapi.User

	repliesCalls  int
	userInfoCalls map[string]int
}

func (f *fakeAPI) GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error) {
	if f.repliesErr != nil {
		return nil, false, "", f.repliesErr
	}
	page := f.repliesCalls
	f.repliesCalls++
	if page >= len(f.pages) {
		return nil, false, "", nil
	}
	hasMore := page < len(f.pages)-1
	cursor := ""
	if hasMore {
		cursor = fmt.Sprintf("cursor-%d", page+1)
	}
	return f.pages[page], hasMore, cursor, nil
}

func (f *fakeAPI) GetConversationHistoryContext(ctx context.Context, params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return &slackapi.GetConversationHistoryResponse{Messages: f.historyMsgs}, nil
}

func (f *fakeAPI) GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return f.channel, nil
}

func (f *fakeAPI) GetUserInfoContext(ctx context.Context, user string) (*slackapi.User, error) {
	if f.userInfoCalls == nil {
		f.userInfoCalls = make(map[string]int)
	}
	f.userInfoCalls[user]++
	u, ok := f.users[user]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return u, nil
}

func msg(user, text, ts string) slackapi.Message {
	m := slackapi.Message{}
	m.User = user
	m.Text = text
	m.Timestamp = ts
	return m
}

func namedChannel(name string) *slackapi.Channel {
	ch := &slackapi.Channel{}
	ch.Name = name
	return ch
}

func TestFetchThread_PreservesOrderAcrossPages(t *testing.T) {
	api := &fakeAPI{
		pages: [][]slackapi.Message{
			{msg("U1", "first", "1700000000.000100"), msg("U2", "second", "1700000000.000200")},
			{msg("U1", "third", "1700000000.000300")},
		},
		channel: namedChannel("incidents"),
		users: map[string]*slackapi.User{
			"U1": {RealName: "Alice Adams"},
			"U2": {Name: "bob"},
		},
	}
	f := newFetcherWithAPI(api, nil)

	thread, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1700000000.000100"})
	if err != nil {
		t.Fatalf("FetchThread returned error: %v", err)
	}

	if thread.ChannelName != "incidents" {
		t.Errorf("ChannelName = %q, want %q", thread.ChannelName, "incidents")
	}
	if len(thread.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(thread.Messages))
	}
	wantOrder := []string{"1700000000.000100", "1700000000.000200", "1700000000.000300"}
	for i, want := range wantOrder {
		if thread.Messages[i].Timestamp != want {
			t.Errorf("message %d timestamp = %q, want %q", i, thread.Messages[i].Timestamp, want)
		}
	}
	if thread.Messages[0].Author != "Alice Adams" {
		t.Errorf("author = %q, want real name", thread.Messages[0].Author)
	}
	if thread.Messages[1].Author != "bob" {
		t.Errorf("author = %q, want username fallback", thread.Messages[1].Author)
	}
	if api.repliesCalls != 2 {
		t.Errorf("replies called %d times, want 2", api.repliesCalls)
	}
}

func TestFetchThread_EmptyThread(t *testing.T) {
	api := &fakeAPI{
		pages:   [][]slackapi.Message{{}},
		channel: namedChannel("general"),
	}
	f := newFetcherWithAPI(api, nil)

	_, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1.0"})
	if !errors.Is(err, ErrEmptyThread) {
		t.Fatalf("error = %v, want ErrEmptyThread", err)
	}
}

func TestFetchThread_UserCacheLooksUpEachAuthorOnce(t *testing.T) {
	api := &fakeAPI{
		pages: [][]slackapi.Message{{
			msg("U1", "a", "1.0"),
			msg("U1", "b", "2.0"),
			msg("U2", "c", "3.0"),
			msg("U1", "d", "4.0"),
		}},
		channel: namedChannel("general"),
		users: map[string]*slackapi.User{
			"U1": {RealName: "Alice"},
			"U2": {RealName: "Bob"},
		},
	}
	f := newFetcherWithAPI(api, nil)

	if _, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1.0"}); err != nil {
		t.Fatalf("FetchThread returned error: %v", err)
	}

	for user, calls := range api.userInfoCalls {
		if calls != 1 {
			t.Errorf("users.info called %d times for %s, want 1", calls, user)
		}
	}
	if len(api.userInfoCalls) != 2 {
		t.Errorf("looked up %d distinct users, want 2", len(api.userInfoCalls))
	}
}

func TestFetchThread_AuthError(t *testing.T) {
	api := &fakeAPI{
		repliesErr: errors.New("invalid_auth"),
		channelErr: errors.New("invalid_auth"),
	}
	f := newFetcherWithAPI(api, nil)

	_, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1.0"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestFetchThread_NotFound(t *testing.T) {
	api := &fakeAPI{
		repliesErr: errors.New("channel_not_found"),
		channelErr: errors.New("channel_not_found"),
	}
	f := newFetcherWithAPI(api, nil)

	_, err := f.FetchThread(context.Background(), Reference{ChannelID: "CMISSING", ThreadTS: "1.0"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFetchThread_RootOnlyThreadViaHistoryFallback(t *testing.T) {
	api := &fakeAPI{
		repliesErr:  errors.New("thread_not_found"),
		historyMsgs: []slackapi.Message{msg("U1", "standalone report", "1.0")},
		channel:     namedChannel("general"),
		users:       map[string]*slackapi.User{"U1": {RealName: "Alice"}},
	}
	f := newFetcherWithAPI(api, nil)

	thread, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1.0"})
	if err != nil {
		t.Fatalf("FetchThread returned error: %v", err)
	}
	if len(thread.Messages) != 1 || thread.Messages[0].Text != "standalone report" {
		t.Fatalf("unexpected messages: %+v", thread.Messages)
	}
}

func TestFetchThread_ChannelNameDegradesToUnknown(t *testing.T) {
	api := &fakeAPI{
		pages:      [][]slackapi.Message{{msg("U1", "hello", "1.0")}},
		channelErr: errors.New("missing_scope"),
		users:      map[string]*slackapi.User{"U1": {RealName: "Alice"}},
	}
	f := newFetcherWithAPI(api, nil)

	thread, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1.0"})
	if err != nil {
		t.Fatalf("FetchThread returned error: %v", err)
	}
	if thread.ChannelName != "unknown" {
		t.Errorf("ChannelName = %q, want %q", thread.ChannelName, "unknown")
	}
}

func TestRenderText_AttachmentsAndFiles(t *testing.T) {
	m := slackapi.Message{}
	m.Text = "see attached"
	m.Attachments = []slackapi.Attachment{{Title: "stack trace", Text: "panic: nil deref"}}
	m.Files = []slackapi.File{{Name: "crash.log", Mimetype: "text/plain"}}

	got := renderText(m)
	want := "see attached\n[Attachment: panic: nil deref]\n[Attachment Title: stack trace]\n[File: crash.log - text/plain]"
	if got != want {
		t.Errorf("renderText = %q, want %q", got, want)
	}
}

func TestFetchThread_UnresolvedAuthorKeepsRawID(t *testing.T) {
	api := &fakeAPI{
		pages:   [][]slackapi.Message{{msg("UGONE", "hi", "1.0")}},
		channel: namedChannel("general"),
		users:   map[string]*slackapi.User{},
	}
	f := newFetcherWithAPI(api, nil)

	thread, err := f.FetchThread(context.Background(), Reference{ChannelID: "C1", ThreadTS: "1.0"})
	if err != nil {
		t.Fatalf("FetchThread returned error: %v", err)
	}
	if thread.Messages[0].Author != "UGONE" {
		t.Errorf("author = %q, want raw ID fallback", thread.Messages[0].Author)
	}
}
