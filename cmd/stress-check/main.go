package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/stress-check/stress"
	"github.com/theimaginaryfoundation/stress-check/stress/fileutils"
	"github.com/theimaginaryfoundation/stress-check/stress/provider"
	"github.com/theimaginaryfoundation/stress-check/stress/recorder"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.Examples {
		for _, p := range stress.ExamplePrompts {
			fmt.Println(p)
		}
		return
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	lex := stress.DefaultLexicon()
	if cfg.LexiconPath != "" {
		lex, err = stress.LoadLexicon(cfg.LexiconPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	analyzer := &stress.Analyzer{
		Lexicon: lex,
		Timeout: cfg.Timeout,
		Logger:  logger,
	}
	if cfg.Emotion {
		analyzer.ModelReply = stress.ReplyEmotion
	}
	var transcriber stress.Transcriber
	if !cfg.NoRemote {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key, or -no-remote for keyword scoring only)")
			os.Exit(2)
		}
		client := openai.NewClient(option.WithAPIKey(apiKey))
		if err := wireRemote(analyzer, &transcriber, &client, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	rec := recorder.Recorder(recorder.NewNoopRecorder())
	if cfg.HistoryDB != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(cfg.HistoryDB, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("open -history-db: %w", err).Error())
			os.Exit(2)
		}
		rec = sqliteRec
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = execute(ctx, cfg, analyzer, transcriber, rec, os.Stdin, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// execute runs one analysis and closes rec whether or not it succeeded.
func execute(ctx context.Context, cfg Config, a *stress.Analyzer, t stress.Transcriber, rec recorder.Recorder, stdin io.Reader, stdout io.Writer) error {
	err := run(ctx, cfg, a, t, rec, stdin, stdout)
	if closeErr := rec.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close history: %w", closeErr))
	}
	return err
}

func wireRemote(a *stress.Analyzer, t *stress.Transcriber, client *openai.Client, cfg Config) error {
	model, err := provider.NewOpenAIClassifier(client, modelChain(cfg.Model, cfg.FallbackModels), provider.WithMaxOutputTokens(cfg.MaxOutputTokens))
	if err != nil {
		return err
	}
	reasoningModel := cfg.ReasoningModel
	if reasoningModel == "" {
		reasoningModel = cfg.Model
	}
	reasoning, err := provider.NewOpenAIClassifier(client, modelChain(reasoningModel, cfg.FallbackModels), provider.WithMaxOutputTokens(cfg.MaxOutputTokens))
	if err != nil {
		return err
	}
	tr, err := provider.NewOpenAITranscriber(client, cfg.TranscribeModel)
	if err != nil {
		return err
	}
	a.Model = model
	a.Reasoning = reasoning
	*t = tr
	return nil
}

func run(ctx context.Context, cfg Config, a *stress.Analyzer, t stress.Transcriber, rec recorder.Recorder, stdin io.Reader, stdout io.Writer) error {
	var res stress.Result
	if cfg.AudioPath != "" {
		f, err := os.Open(cfg.AudioPath)
		if err != nil {
			return fmt.Errorf("open -audio: %w", err)
		}
		defer f.Close()
		transcript, err := stress.Transcribe(ctx, t, filepath.Base(cfg.AudioPath), f)
		if err != nil {
			return err
		}
		res, err = a.AnalyzeTranscript(ctx, transcript)
		if err != nil {
			return err
		}
	} else {
		text, err := loadInput(cfg, stdin)
		if err != nil {
			return err
		}
		res, err = a.Analyze(ctx, text)
		if err != nil {
			return err
		}
	}

	if err := rec.Record(res); err != nil {
		// History is best effort; the result is still printed.
		fmt.Fprintln(os.Stderr, fmt.Errorf("record history: %w", err).Error())
	}

	if cfg.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		fmt.Fprint(stdout, stress.FormatResult(res))
		if cfg.ShowRaw {
			fmt.Fprint(stdout, "\n"+stress.FormatRaw(res))
		}
	}

	if cfg.ReportPath != "" {
		if err := fileutils.WriteFileAtomicSameDir(cfg.ReportPath, []byte(stress.FormatReport(res)), 0o644); err != nil {
			return fmt.Errorf("write -report: %w", err)
		}
	}
	return nil
}

// loadInput returns -text, or the contents of -in. "-in -" reads stdin.
func loadInput(cfg Config, stdin io.Reader) (string, error) {
	if cfg.Text != "" {
		return cfg.Text, nil
	}
	var (
		b   []byte
		err error
	)
	if cfg.InPath == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(cfg.InPath)
	}
	if err != nil {
		return "", fmt.Errorf("read -in: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", stress.ErrEmptyInput
	}
	return text, nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.Text, "text", cfg.Text, "Text to analyze")
	fs.StringVar(&cfg.InPath, "in", cfg.InPath, "Read text to analyze from this file (- for stdin)")
	fs.StringVar(&cfg.AudioPath, "audio", cfg.AudioPath, "Transcribe and analyze this audio file (wav, mp3, m4a, ...)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model for the structured stress judgment (or emotion probabilities with -emotion)")
	fs.StringVar(&cfg.FallbackModels, "fallback-models", cfg.FallbackModels, "Comma-separated models tried when the primary is unavailable or out of quota")
	fs.StringVar(&cfg.ReasoningModel, "reasoning-model", cfg.ReasoningModel, "Model for the intensity judgment (default: -model)")
	fs.StringVar(&cfg.TranscribeModel, "transcribe-model", cfg.TranscribeModel, "Model for audio transcription")
	fs.StringVar(&cfg.LexiconPath, "lexicon", cfg.LexiconPath, "YAML lexicon file replacing the built-in keyword weights")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for each model request")
	fs.Int64Var(&cfg.MaxOutputTokens, "max-output-tokens", cfg.MaxOutputTokens, "Max reply tokens per model request")
	fs.BoolVar(&cfg.Emotion, "emotion", cfg.Emotion, "Ask -model for emotion label probabilities instead of a stress judgment")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite database to record analyses in (optional)")
	fs.StringVar(&cfg.ReportPath, "report", cfg.ReportPath, "Write a plain-text report to this path (optional)")
	fs.BoolVar(&cfg.JSON, "json", cfg.JSON, "Print the full result as JSON")
	fs.BoolVar(&cfg.ShowRaw, "show-raw", cfg.ShowRaw, "Also print the raw model output (emotion probabilities, evidence)")
	fs.BoolVar(&cfg.NoRemote, "no-remote", cfg.NoRemote, "Score with the keyword lexicon only; make no API calls")
	fs.BoolVar(&cfg.Examples, "examples", cfg.Examples, "Print example inputs and exit")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "OpenAI API key (optional; otherwise uses OPENAI_API_KEY)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Log signal failures and score breakdowns to stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	for _, p := range []*string{&cfg.AudioPath, &cfg.LexiconPath, &cfg.HistoryDB, &cfg.ReportPath} {
		if *p != "" {
			*p = filepath.Clean(*p)
		}
	}
	if cfg.InPath != "" && cfg.InPath != "-" {
		cfg.InPath = filepath.Clean(cfg.InPath)
	}
	return cfg, nil
}
