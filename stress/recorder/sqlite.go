package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/theimaginaryfoundation/stress-check/stress"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder stores one row per analysis. Only the excerpt of the input is kept.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteRecorder opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *slog.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analyses (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			analyzed_at          INTEGER NOT NULL,
			input_type           TEXT,
			excerpt              TEXT,
			score                INTEGER NOT NULL,
			band                 TEXT,
			lex_score            INTEGER,
			model_score          INTEGER,
			model_confidence     REAL,
			reasoning_score      INTEGER,
			reasoning_confidence REAL,
			weight_model         REAL,
			weight_lex           REAL,
			weight_reason        REAL,
			floor_applied        INTEGER,
			lexicon_only         INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_ts ON analyses(analyzed_at)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(res stress.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := stress.EntryFromResult(res)
	ts := e.AnalyzedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	m := res.Meta
	_, err := r.db.Exec(`INSERT INTO analyses
		(analyzed_at, input_type, excerpt, score, band, lex_score,
		 model_score, model_confidence, reasoning_score, reasoning_confidence,
		 weight_model, weight_lex, weight_reason, floor_applied, lexicon_only)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ts.UnixNano(), e.InputType, e.Excerpt, e.Score, e.Band, m.LexiconScore,
		m.ModelScore, m.ModelConfidence, m.ReasoningScore, m.ReasoningConfidence,
		m.Weights.Model, m.Weights.Lexicon, m.Weights.Reasoning,
		m.FloorApplied, m.LexiconOnly,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) Recent(limit int) ([]stress.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(`SELECT analyzed_at, input_type, excerpt, score, band
		FROM analyses ORDER BY analyzed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []stress.HistoryEntry
	for rows.Next() {
		var (
			ns int64
			e  stress.HistoryEntry
		)
		if err := rows.Scan(&ns, &e.InputType, &e.Excerpt, &e.Score, &e.Band); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		e.AnalyzedAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}
