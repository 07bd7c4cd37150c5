package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/stress-check/stress"
	"github.com/theimaginaryfoundation/stress-check/stress/fileutils"
	"github.com/theimaginaryfoundation/stress-check/stress/provider"
)

// Entry is one input to score.
type Entry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// IndexRecord is one row of the batch index.
type IndexRecord struct {
	ID          string `json:"id"`
	Score       int    `json:"score"`
	Band        string `json:"band"`
	LexScore    int    `json:"lex_score"`
	LexiconOnly bool   `json:"lexicon_only"`
	Excerpt     string `json:"excerpt"`
	ResultPath  string `json:"result_path"`
}

const resultSuffix = ".result.json"

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
	analyzer := &stress.Analyzer{Lexicon: lex, Timeout: cfg.Timeout, Logger: logger}
	if cfg.Emotion {
		analyzer.ModelReply = stress.ReplyEmotion
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
		model, err := provider.NewOpenAIClassifier(&client, modelChain(cfg.Model, cfg.FallbackModels), provider.WithMaxOutputTokens(cfg.MaxOutputTokens))
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		reasoningModel := cfg.ReasoningModel
		if reasoningModel == "" {
			reasoningModel = cfg.Model
		}
		reasoning, err := provider.NewOpenAIClassifier(&client, modelChain(reasoningModel, cfg.FallbackModels), provider.WithMaxOutputTokens(cfg.MaxOutputTokens))
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		analyzer.Model = model
		analyzer.Reasoning = reasoning
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := runBatch(ctx, cfg, analyzer)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "entries_processed=%d out_dir=%s index=%s\n", n, cfg.OutDir, indexPathFor(cfg))
}

func indexPathFor(cfg Config) string {
	if cfg.IndexPath != "" {
		return cfg.IndexPath
	}
	return filepath.Join(cfg.OutDir, "stress_index.jsonl")
}

// runBatch scores every entry in cfg.InPath and returns how many were analyzed in this run.
func runBatch(ctx context.Context, cfg Config, a *stress.Analyzer) (int64, error) {
	entries, err := loadEntries(cfg.InPath)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, errors.New("no entries found in -in")
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir -out: %w", err)
	}

	byID := make(map[string]Entry, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	start := time.Now()
	total := int64(len(ids))
	var processed int64
	err = forEachIDConcurrent(ctx, cfg.Concurrency, ids, func(ctx context.Context, id string) error {
		outPath := filepath.Join(cfg.OutDir, id+resultSuffix)
		if cfg.Resume && fileutils.FileExists(outPath) {
			return nil
		}
		res, err := a.Analyze(ctx, byID[id].Text)
		if err != nil {
			if errors.Is(err, stress.ErrEmptyInput) {
				fmt.Fprintf(os.Stderr, "skip %s: empty text\n", id)
				return nil
			}
			return fmt.Errorf("analyze %s: %w", id, err)
		}
		if err := fileutils.WriteJSONFileAtomic(outPath, res, cfg.Pretty); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		n := atomic.AddInt64(&processed, 1)
		fmt.Fprintf(os.Stderr, "progress stress-batch: %d/%d entries scored (last=%s score=%d elapsed=%s)\n",
			n, total, id, res.Score, time.Since(start).Round(time.Second))
		return nil
	})
	if err != nil {
		return processed, err
	}

	if cfg.Reindex {
		if err := rebuildIndex(cfg, indexPathFor(cfg)); err != nil {
			return processed, err
		}
	}
	return processed, nil
}

// loadEntries reads one entry per line. Lines starting with "{" are decoded as Entry JSON;
// anything else is plain text whose ID is its line number.
func loadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open -in: %w", err)
	}
	defer f.Close()

	var out []Entry
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e := Entry{ID: "line-" + strconv.Itoa(lineNo), Text: line}
		if strings.HasPrefix(line, "{") {
			var je Entry
			if err := json.Unmarshal([]byte(line), &je); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			e.Text = je.Text
			if je.ID != "" {
				e.ID = je.ID
			}
		}
		e.ID = safeID(e.ID)
		if seen[e.ID] {
			return nil, fmt.Errorf("%s:%d: duplicate id %q", path, lineNo, e.ID)
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read -in: %w", err)
	}
	return out, nil
}

// safeID maps id onto characters that are safe in a file name.
func safeID(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "_"
	}
	return s
}

func forEachIDConcurrent(ctx context.Context, concurrency int, ids []string, fn func(context.Context, string) error) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if err := fn(ctx, id); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}

func rebuildIndex(cfg Config, indexPath string) error {
	var paths []string
	if err := filepath.WalkDir(cfg.OutDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, resultSuffix) {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("reindex: walk results: %w", err)
	}
	sort.Strings(paths)

	var buf strings.Builder
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reindex: read %s: %w", p, err)
		}
		var res stress.Result
		if err := json.Unmarshal(b, &res); err != nil {
			return fmt.Errorf("reindex: unmarshal %s: %w", p, err)
		}
		rec := IndexRecord{
			ID:          strings.TrimSuffix(filepath.Base(p), resultSuffix),
			Score:       res.Score,
			Band:        res.Severity.Label,
			LexScore:    res.Meta.LexiconScore,
			LexiconOnly: res.Meta.LexiconOnly,
			Excerpt:     fileutils.Truncate(fileutils.CollapseWhitespace(res.Text), cfg.IndexExcerptMaxChars),
			ResultPath:  p,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("reindex: marshal: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := fileutils.WriteFileAtomicSameDir(indexPath, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("reindex: write index: %w", err)
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.InPath, "in", cfg.InPath, "Input file: one text per line, or JSONL rows of {\"id\",\"text\"}")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Output directory for per-entry result JSON files")
	fs.StringVar(&cfg.IndexPath, "index", "", "Optional path for stress_index.jsonl (default: <out>/stress_index.jsonl)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model for the structured stress judgment (or emotion probabilities with -emotion)")
	fs.StringVar(&cfg.FallbackModels, "fallback-models", cfg.FallbackModels, "Comma-separated models tried when the primary is unavailable or out of quota")
	fs.StringVar(&cfg.ReasoningModel, "reasoning-model", cfg.ReasoningModel, "Model for the intensity judgment (default: -model)")
	fs.StringVar(&cfg.LexiconPath, "lexicon", cfg.LexiconPath, "YAML lexicon file replacing the built-in keyword weights")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for each model request")
	fs.Int64Var(&cfg.MaxOutputTokens, "max-output-tokens", cfg.MaxOutputTokens, "Max reply tokens per model request")
	fs.BoolVar(&cfg.Emotion, "emotion", cfg.Emotion, "Ask -model for emotion label probabilities instead of a stress judgment")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print result JSON files")
	fs.BoolVar(&cfg.Resume, "resume", cfg.Resume, "Skip entries that already have result files")
	fs.BoolVar(&cfg.Reindex, "reindex", cfg.Reindex, "Rebuild the index from existing results at end of run")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max concurrent analyses")
	fs.IntVar(&cfg.IndexExcerptMaxChars, "index-excerpt-max-chars", cfg.IndexExcerptMaxChars, "Max chars of input text in index rows (0 disables truncation)")
	fs.BoolVar(&cfg.NoRemote, "no-remote", cfg.NoRemote, "Score with the keyword lexicon only; make no API calls")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Log signal failures and score breakdowns to stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.InPath != "" {
		cfg.InPath = filepath.Clean(cfg.InPath)
	}
	cfg.OutDir = filepath.Clean(cfg.OutDir)
	if cfg.IndexPath != "" {
		cfg.IndexPath = filepath.Clean(cfg.IndexPath)
	}
	if cfg.LexiconPath != "" {
		cfg.LexiconPath = filepath.Clean(cfg.LexiconPath)
	}
	return cfg, nil
}
