package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	APIKey       string
	GenerateOnly bool
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := openai.NewClient(option.WithAPIKey(apiKey))
	if err := listModels(ctx, &client, cfg.GenerateOnly, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func listModels(ctx context.Context, client *openai.Client, generateOnly bool, w io.Writer) error {
	var ids []string
	iter := client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		id := iter.Current().ID
		if generateOnly && !isGenerationModel(id) {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	sort.Strings(ids)

	if generateOnly {
		fmt.Fprintln(w, "Models that can produce text responses:")
	} else {
		fmt.Fprintln(w, "Available models:")
	}
	for _, id := range ids {
		fmt.Fprintf(w, "- %s\n", id)
	}
	return nil
}

// isGenerationModel reports whether id looks like a model usable for the stress judgments.
func isGenerationModel(id string) bool {
	id = strings.ToLower(id)
	for _, skip := range []string{"embedding", "whisper", "tts", "dall-e", "moderation", "transcribe", "image", "audio", "realtime", "search", "davinci", "babbage"} {
		if strings.Contains(id, skip) {
			return false
		}
	}
	for _, prefix := range []string{"gpt-", "chatgpt-", "o1", "o3", "o4"} {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.BoolVar(&cfg.GenerateOnly, "generate-only", false, "Only list models that can produce text responses")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
