// Package slackurl parses Slack archive URLs into thread references.
package slackurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedURL indicates the input does not look like a Slack archive URL.
var ErrMalformedURL = errors.New("malformed Slack URL")

// ThreadReference identifies a thread within a workspace: the channel it
// lives in and the timestamp of its root message.
type ThreadReference struct {
	ChannelID string
	ThreadTS  string
}

// Parse extracts the channel ID and thread timestamp from a Slack URL.
//
// Supported formats:
//   - https://workspace.slack.com/archives/C01234567/p1234567890123456
//   - https://workspace.slack.com/archives/C01234567/p1234567890123456?thread_ts=1234567890.123456
//
// The p-prefixed message ID encodes a timestamp with an implicit decimal
// point six digits from the end. A thread_ts query parameter, when present,
// names the thread root and takes precedence over the path timestamp.
// Parsing is purely structural; no network calls are made.
func Parse(rawURL string) (ThreadReference, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ThreadReference{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ThreadReference{}, fmt.Errorf("%w: unsupported scheme %q in %s", ErrMalformedURL, u.Scheme, rawURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "archives" {
		return ThreadReference{}, fmt.Errorf("%w: path %q is not /archives/<channel>/<message>", ErrMalformedURL, u.Path)
	}

	channelID := parts[1]
	if channelID == "" {
		return ThreadReference{}, fmt.Errorf("%w: empty channel ID in %s", ErrMalformedURL, rawURL)
	}

	threadTS, err := decodeTimestamp(parts[2])
	if err != nil {
		return ThreadReference{}, err
	}

	// An explicit thread_ts query parameter points at the thread root
	// (links copied from inside a thread carry it).
	if qts := u.Query().Get("thread_ts"); qts != "" {
		threadTS = qts
	}

	return ThreadReference{ChannelID: channelID, ThreadTS: threadTS}, nil
}

// decodeTimestamp converts a message ID like "p1234567890123456" into the
// API timestamp format "1234567890.123456". A message segment that is
// already a dotted timestamp is accepted as-is.
func decodeTimestamp(messageID string) (string, error) {
	if strings.HasPrefix(messageID, "p") {
		digits := strings.TrimPrefix(messageID, "p")
		if digits == "" || !isDigits(digits) {
			return "", fmt.Errorf("%w: message ID %q is not p<digits>", ErrMalformedURL, messageID)
		}
		if len(digits) <= 6 {
			return digits, nil
		}
		return digits[:len(digits)-6] + "." + digits[len(digits)-6:], nil
	}

	// Raw timestamp form, e.g. "1234567890.123456".
	dot := strings.IndexByte(messageID, '.')
	if dot > 0 && isDigits(messageID[:dot]) && isDigits(messageID[dot+1:]) {
		return messageID, nil
	}

	return "", fmt.Errorf("%w: unrecognized message segment %q", ErrMalformedURL, messageID)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
