package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/stress-check/stress"
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

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	lex := stress.DefaultLexicon()
	if cfg.LexiconPath != "" {
		lex, err = stress.LoadLexicon(cfg.LexiconPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	srv := &server{
		analyzer: &stress.Analyzer{
			Lexicon: lex,
			Timeout: cfg.Timeout,
			Logger:  logger,
		},
		history:       &stress.History{Max: cfg.HistoryMax},
		recorder:      recorder.NewNoopRecorder(),
		maxAudioBytes: cfg.MaxAudioBytes,
		metrics:       newMetrics(),
		logger:        logger,
	}
	if cfg.Emotion {
		srv.analyzer.ModelReply = stress.ReplyEmotion
	}

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
		if err := wireRemote(srv, &client, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	if cfg.HistoryDB != "" {
		rec, err := recorder.NewSQLiteRecorder(cfg.HistoryDB, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("open -history-db: %w", err).Error())
			os.Exit(2)
		}
		srv.recorder = rec
		srv.persistent = true
	}
	if brokers := splitList(cfg.KafkaBrokers); len(brokers) > 0 {
		pub, err := recorder.NewKafkaPublisher(recorder.KafkaConfig{Brokers: brokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("kafka publisher: %w", err).Error())
			os.Exit(2)
		}
		srv.recorder = recorder.Tee(srv.recorder, pub)
		logger.Info("publishing analyses", "topic", cfg.KafkaTopic, "brokers", brokers)
	}
	defer srv.recorder.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "remote", !cfg.NoRemote)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}
}

func wireRemote(s *server, client *openai.Client, cfg Config) error {
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
	s.analyzer.Model = model
	s.analyzer.Reasoning = reasoning
	s.transcriber = tr
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model for the structured stress judgment (or emotion probabilities with -emotion)")
	fs.StringVar(&cfg.FallbackModels, "fallback-models", cfg.FallbackModels, "Comma-separated models tried when the primary is unavailable or out of quota")
	fs.StringVar(&cfg.ReasoningModel, "reasoning-model", cfg.ReasoningModel, "Model for the intensity judgment (default: -model)")
	fs.StringVar(&cfg.TranscribeModel, "transcribe-model", cfg.TranscribeModel, "Model for audio transcription")
	fs.StringVar(&cfg.LexiconPath, "lexicon", cfg.LexiconPath, "YAML lexicon file replacing the built-in keyword weights")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for each model request")
	fs.Int64Var(&cfg.MaxOutputTokens, "max-output-tokens", cfg.MaxOutputTokens, "Max reply tokens per model request")
	fs.BoolVar(&cfg.Emotion, "emotion", cfg.Emotion, "Ask -model for emotion label probabilities instead of a stress judgment")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite database to record analyses in (default: in-memory history only)")
	fs.IntVar(&cfg.HistoryMax, "history-max", cfg.HistoryMax, "Max analyses kept in the in-memory history (0 keeps all)")
	fs.Int64Var(&cfg.MaxAudioBytes, "max-audio-bytes", cfg.MaxAudioBytes, "Max upload size for /v1/transcribe")
	fs.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Comma-separated Kafka brokers to publish analysis events to (optional)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic for analysis events")
	fs.BoolVar(&cfg.NoRemote, "no-remote", cfg.NoRemote, "Score with the keyword lexicon only; make no API calls")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.LexiconPath != "" {
		cfg.LexiconPath = filepath.Clean(cfg.LexiconPath)
	}
	if cfg.HistoryDB != "" {
		cfg.HistoryDB = filepath.Clean(cfg.HistoryDB)
	}
	return cfg, nil
}
