package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkellner/slack2jira/internal/analyzer"
	"github.com/mkellner/slack2jira/internal/config"
	"github.com/mkellner/slack2jira/internal/converter"
	"github.com/mkellner/slack2jira/internal/jira"
	"github.com/mkellner/slack2jira/internal/secrets"
	"github.com/mkellner/slack2jira/internal/slack"
)

var convertCmd = &cobra.Command{
	Use:   "convert <slack-thread-url>",
	Short: "Convert a Slack thread into a Jira issue",
	Long: `Convert a Slack thread into a Jira issue.

This fetches all messages in the referenced thread, summarizes the
discussion with Groq AI, and creates an issue in the target project with a
comment linking back to the thread.

Examples:
  slack2jira convert "https://myworkspace.slack.com/archives/C01234/p1234567890123456"
  slack2jira convert --project SAT --type Task "https://..."
  slack2jira convert --dry-run "https://..."`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringP("project", "p", "", "Jira project key (overrides config default)")
	convertCmd.Flags().StringP("type", "t", "", "Issue type (Bug, Task, Story, Improvement)")
	convertCmd.Flags().Bool("dry-run", false, "Show what would be created without creating it")
	convertCmd.Flags().Bool("json", false, "Output the result as JSON")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, aborting...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	project, _ := cmd.Flags().GetString("project")
	issueType, _ := cmd.Flags().GetString("type")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	if issueType != "" {
		if _, ok := analyzer.ParseIssueType(issueType); !ok {
			return fmt.Errorf("invalid issue type %q (must be Bug, Task, Story or Improvement)", issueType)
		}
	}

	if err := resolveSecrets(ctx, cfg); err != nil {
		return fmt.Errorf("failed to resolve secret references: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger()
	httpClient := &http.Client{Timeout: cfg.Timeout()}

	publisher, err := jira.NewPublisher(cfg.Jira.BaseURL, cfg.Jira.APIToken, cfg.Timeout(), logger)
	if err != nil {
		return err
	}

	var progress converter.Progress = converter.NopProgress{}
	if !asJSON {
		progress = stdoutProgress{}
	}

	conv := converter.New(
		slack.NewFetcher(cfg.Slack.BotToken, httpClient, logger),
		analyzer.New(cfg.Groq.APIKey, cfg.Groq.Model, httpClient, logger),
		publisher,
		converter.Defaults{ProjectKey: cfg.Jira.ProjectKey, IssueType: cfg.Jira.IssueType},
		progress,
		logger,
	)

	outcome := conv.Convert(ctx, converter.Request{
		URL:        args[0],
		ProjectKey: project,
		IssueType:  issueType,
		DryRun:     dryRun,
	})

	if asJSON {
		if err := writeJSON(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	} else {
		writeHuman(cmd.OutOrStdout(), outcome)
	}

	return outcome.Err()
}

// resolveSecrets replaces secret:// credential references in place. The
// Secret Manager client is only created when at least one reference is
// present.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	values := []*string{&cfg.Slack.BotToken, &cfg.Jira.APIToken, &cfg.Groq.APIKey}

	hasRefs := false
	for _, v := range values {
		if secrets.IsReference(*v) {
			hasRefs = true
			break
		}
	}
	if !hasRefs {
		return nil
	}

	client, err := secrets.NewClient(ctx, cfg.GCP.Project)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	return secrets.ResolveAll(ctx, client, values...)
}

// newLogger returns the stderr diagnostics logger; silent unless verbose.
func newLogger() *log.Logger {
	if viper.GetBool("verbose") {
		return log.New(os.Stderr, "slack2jira: ", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// stdoutProgress narrates pipeline steps for the human rendering.
type stdoutProgress struct{}

func (stdoutProgress) Step(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
