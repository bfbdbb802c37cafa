// Package secrets resolves secret:// credential references through GCP
// Secret Manager, so tokens never have to live in the config file itself.
// It supplies tokens; it does not rotate or refresh them.
package secrets

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Prefix marks a config value as a Secret Manager reference.
const Prefix = "secret://"

// IsReference reports whether a config value names a secret rather than
// holding the credential inline.
func IsReference(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Fetcher fetches secret payloads by reference.
type Fetcher interface {
	FetchSecret(ctx context.Context, ref string) (string, error)
	Close() error
}

// Client wraps the GCP Secret Manager client.
type Client struct {
	client    *secretmanager.Client
	projectID string
}

// NewClient creates a Secret Manager client. projectID is only needed for
// bare secret names; full projects/... references carry their own.
func NewClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*Client, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	return &Client{client: client, projectID: projectID}, nil
}

// FetchSecret retrieves the payload behind a secret:// reference. Accepted
// forms after the prefix:
//   - projects/PROJECT/secrets/NAME/versions/VERSION
//   - projects/PROJECT/secrets/NAME            (latest version)
//   - NAME                                     (needs the configured project)
func (c *Client) FetchSecret(ctx context.Context, ref string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	name, err := c.resolveName(ref)
	if err != nil {
		return "", err
	}

	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("accessing secret %s: %w", name, err)
	}

	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (c *Client) resolveName(ref string) (string, error) {
	return ResolveName(ref, c.projectID)
}

// ResolveName expands a secret reference into a full versioned resource
// name. Split out of the client so it can be exercised without GCP access.
func ResolveName(ref, projectID string) (string, error) {
	name := strings.TrimPrefix(ref, Prefix)
	if name == "" {
		return "", fmt.Errorf("empty secret reference %q", ref)
	}

	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/versions/") {
		return name, nil
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/secrets/") {
		return name + "/versions/latest", nil
	}

	if projectID == "" {
		return "", fmt.Errorf("secret reference %q needs gcp.project to be configured", ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, path.Base(name)), nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ResolveAll replaces every secret:// reference among values with the
// fetched payload, in place. Values without the prefix pass through
// untouched.
func ResolveAll(ctx context.Context, fetcher Fetcher, values ...*string) error {
	for _, v := range values {
		if v == nil || !IsReference(*v) {
			continue
		}
		secret, err := fetcher.FetchSecret(ctx, *v)
		if err != nil {
			return err
		}
		*v = secret
	}
	return nil
}
