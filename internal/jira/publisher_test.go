package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkellner/slack2jira/internal/analyzer"
)

// fakeTracker is an httptest-backed Jira that can restrict fields on issue
// creation.
type fakeTracker struct {
	*httptest.Server

	restrictFields bool
	failAll        bool
	failBody       string
	failStatus     int

	createCalls  int
	commentCalls int
	lastComment  string
}

func newFakeTracker(t *testing.T) *fakeTracker {
	ft := &fakeTracker{}
	mux := http.NewServeMux()

	mux.HandleFunc("/rest/api/2/issue", func(w http.ResponseWriter, r *http.Request) {
		ft.createCalls++
		body, _ := io.ReadAll(r.Body)

		if ft.failAll {
			w.WriteHeader(ft.failStatus)
			_, _ = w.Write([]byte(ft.failBody))
			return
		}

		if ft.restrictFields && (strings.Contains(string(body), `"priority"`) || strings.Contains(string(body), `"description"`)) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorMessages":[],"errors":{"priority":"Field 'priority' cannot be set. It is not on the appropriate screen, or unknown."}}`))
			return
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":   "10001",
			"key":  "SAT-42",
			"self": ft.URL + "/rest/api/2/issue/10001",
		})
	})

	mux.HandleFunc("/rest/api/2/issue/10001/comment", func(w http.ResponseWriter, r *http.Request) {
		ft.commentCalls++
		body, _ := io.ReadAll(r.Body)
		var comment struct {
			Body string `json:"body"`
		}
		_ = json.Unmarshal(body, &comment)
		ft.lastComment = comment.Body

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "1", "body": comment.Body})
	})

	ft.Server = httptest.NewServer(mux)
	t.Cleanup(ft.Close)
	return ft
}

func testPublisher(t *testing.T, tracker *fakeTracker) *Publisher {
	p, err := NewPublisher(tracker.URL, "token", 5*time.Second, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return p
}

func proposal() analyzer.IssueProposal {
	return analyzer.IssueProposal{
		Title:       "Fix login bug",
		Description: "Users report being logged out immediately.",
		IssueType:   analyzer.IssueTypeBug,
		Priority:    analyzer.PriorityCritical,
	}
}

func TestPublish_FullFields(t *testing.T) {
	tracker := newFakeTracker(t)
	p := testPublisher(t, tracker)

	result, err := p.Publish(context.Background(), proposal(), "SAT", "https://w.slack.com/archives/C1/p1")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if result.IssueKey != "SAT-42" {
		t.Errorf("IssueKey = %q, want SAT-42", result.IssueKey)
	}
	if result.IssueURL != tracker.URL+"/browse/SAT-42" {
		t.Errorf("IssueURL = %q", result.IssueURL)
	}
	if result.UsedFallback {
		t.Error("UsedFallback = true for unrestricted project")
	}
	if tracker.createCalls != 1 {
		t.Errorf("create called %d times, want 1", tracker.createCalls)
	}
	if tracker.commentCalls != 0 {
		t.Errorf("comment called %d times, want 0", tracker.commentCalls)
	}
}

func TestPublish_FieldRestrictionFallback(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.restrictFields = true
	p := testPublisher(t, tracker)

	source := "https://w.slack.com/archives/C1/p1700000000000000"
	result, err := p.Publish(context.Background(), proposal(), "SAT", source)
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if !result.UsedFallback {
		t.Error("UsedFallback = false, want true")
	}
	if !result.CommentAdded {
		t.Error("CommentAdded = false, want true")
	}
	if tracker.createCalls != 2 {
		t.Errorf("create called %d times, want 2 (full then minimal)", tracker.createCalls)
	}
	if tracker.commentCalls != 1 {
		t.Errorf("comment called %d times, want exactly 1", tracker.commentCalls)
	}

	// The dropped content must survive in the comment.
	for _, want := range []string{
		"Users report being logged out immediately.",
		"*Suggested Priority:* Critical",
		source,
	} {
		if !strings.Contains(tracker.lastComment, want) {
			t.Errorf("comment missing %q:\n%s", want, tracker.lastComment)
		}
	}
}

func TestPublish_MinimalCreationFailureIsTerminal(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.failAll = true
	tracker.failStatus = http.StatusBadRequest
	tracker.failBody = `{"errorMessages":["Issue type Task does not exist for project SAT."],"errors":{}}`
	p := testPublisher(t, tracker)

	_, err := p.Publish(context.Background(), proposal(), "SAT", "")
	if err == nil {
		t.Fatal("Publish succeeded, want terminal error")
	}
	if !strings.Contains(err.Error(), "does not exist for project") {
		t.Errorf("error %q does not carry the tracker diagnostic", err)
	}
}

func TestPublish_AuthErrorClassified(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.failAll = true
	tracker.failStatus = http.StatusUnauthorized
	tracker.failBody = `{"errorMessages":["Unauthorized"],"errors":{}}`
	p := testPublisher(t, tracker)

	_, err := p.Publish(context.Background(), proposal(), "SAT", "")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("error = %v, want ErrAuth", err)
	}
}

func TestPublish_PermissionErrorClassified(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.failAll = true
	tracker.failStatus = http.StatusBadRequest
	tracker.failBody = `{"errorMessages":["anonymous users do not have permission to create issues in this project"],"errors":{}}`
	p := testPublisher(t, tracker)

	_, err := p.Publish(context.Background(), proposal(), "SAT", "")
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("error = %v, want ErrPermission", err)
	}
}

func TestBuildDescription(t *testing.T) {
	got := buildDescription("details", "https://example.com/thread")
	if !strings.Contains(got, "details") || !strings.Contains(got, "https://example.com/thread") {
		t.Errorf("buildDescription = %q", got)
	}
	if got := buildDescription("", "https://example.com/thread"); strings.HasPrefix(got, "\n") {
		t.Errorf("empty description leaves leading separator: %q", got)
	}
	if got := buildDescription("just details", ""); got != "just details" {
		t.Errorf("buildDescription without link = %q", got)
	}
}
