// promptd - command line client for the promptd conversation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/promptd/promptd/internal/config"
	"github.com/promptd/promptd/internal/contextwin"
	"github.com/promptd/promptd/internal/dispatch"
	"github.com/promptd/promptd/internal/keypool"
	"github.com/promptd/promptd/internal/provider"
	"github.com/promptd/promptd/internal/session"
	"github.com/promptd/promptd/internal/store"
)

func main() {
	var (
		model        string
		conversation string
		listFlag     bool
		showSelector string
		verbose      bool
	)
	pflag.StringVarP(&model, "model", "m", "", "model identifier (prefix with ollama:: for a local model)")
	pflag.StringVarP(&conversation, "conversation", "c", "", "resume a conversation: id, key, suffix, or recency index")
	pflag.BoolVarP(&listFlag, "list", "l", false, "list stored conversations")
	pflag.StringVarP(&showSelector, "show", "s", "", "print a stored conversation and exit")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("invalid configuration: %v", err)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		fatal("open database: %v", err)
	}
	defer func() { _ = repo.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case listFlag:
		err = listConversations(ctx, repo)
	case showSelector != "":
		err = showConversation(ctx, repo, showSelector)
	default:
		err = converse(ctx, cfg, repo, logger, model, conversation)
	}
	if err != nil {
		stop()
		fatal("%v", err)
	}
}

func converse(ctx context.Context, cfg *config.Config, repo store.Repository, logger *slog.Logger, model, conversation string) error {
	prompt, err := readPrompt()
	if err != nil {
		return err
	}

	pool := keypool.Load(cfg.APIKeys, keypool.WithLogger(logger))
	dispatcher := dispatch.New(pool,
		dispatch.WithLogger(logger),
		dispatch.WithRetryObserver(func(attempts, poolSize int) {
			fmt.Fprintf(os.Stderr, "retrying with next credential (%d/%d)\n", attempts, poolSize)
		}),
	)

	svc, err := session.New(session.Config{
		Repo:       repo,
		Dispatcher: dispatcher,
		Window:     contextwin.New(),
		Resolve: func(m string) (provider.Client, error) {
			return provider.Resolve(m, provider.ResolverConfig{
				OpenAIBaseURL: cfg.OpenAIBaseURL,
				OllamaBaseURL: cfg.OllamaBaseURL,
				Timeout:       cfg.RequestTimeout,
				Logger:        logger,
			})
		},
		DefaultModel:  cfg.DefaultModel,
		ContextBudget: cfg.ContextBudget,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	res, err := svc.Converse(ctx, session.Request{
		Prompt:   prompt,
		Selector: conversation,
		Model:    model,
	})

	var unsaved *session.UnsavedError
	if errors.As(err, &unsaved) {
		// The reply was obtained; losing it over a save failure would be
		// worse than printing it with a warning.
		fmt.Println(unsaved.Result.Text)
		fmt.Fprintf(os.Stderr, "warning: response not saved: %v\n", unsaved.Err)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println(res.Text)
	if res.Created {
		fmt.Fprintf(os.Stderr, "started conversation %s\n", res.ConversationKey)
	}
	if res.Usage != nil {
		fmt.Fprintf(os.Stderr, "tokens: %d prompt, %d completion\n",
			res.Usage.PromptTokens, res.Usage.CompletionTokens)
	}
	return nil
}

// readPrompt takes the prompt from the remaining arguments, falling back to
// stdin so the tool composes with pipes.
func readPrompt() (string, error) {
	if args := pflag.Args(); len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given: pass it as arguments or on stdin")
	}
	return prompt, nil
}

func listConversations(ctx context.Context, repo store.Repository) error {
	summaries, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stderr, "no conversations yet")
		return nil
	}
	for i, s := range summaries {
		fmt.Printf("%3d  %-40s  %-20s  %d turns\n", i+1, s.Key, s.Model, s.TurnCount)
	}
	return nil
}

func showConversation(ctx context.Context, repo store.Repository, selector string) error {
	conv, err := repo.Load(ctx, selector)
	if err != nil {
		return fmt.Errorf("load conversation %q: %w", selector, err)
	}
	fmt.Printf("%s (%s)\n", conv.Key, conv.Model)
	for _, turn := range conv.Turns {
		fmt.Printf("\n[%s]\n%s\n", turn.Role, turn.Content)
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "promptd: "+format+"\n", args...)
	os.Exit(1)
}
