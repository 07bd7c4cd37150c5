package main

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/theimaginaryfoundation/stress-check/stress"
	"github.com/theimaginaryfoundation/stress-check/stress/recorder"
)

type analyzeRequest struct {
	Text string `json:"text"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type historyResponse struct {
	Entries []stress.HistoryEntry `json:"entries"`
}

// server serves analyses over HTTP. The in-memory history backs /v1/history unless a
// persistent recorder is configured.
type server struct {
	analyzer      *stress.Analyzer
	transcriber   stress.Transcriber
	history       *stress.History
	recorder      recorder.Recorder
	persistent    bool
	maxAudioBytes int64
	metrics       *metrics
	logger        *slog.Logger
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), s.metrics.middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.handler()))

	api := r.Group("/v1")
	{
		api.POST("/analyze", s.handleAnalyze)
		api.POST("/transcribe", s.handleTranscribe)
		api.GET("/history", s.handleHistory)
	}
	return r
}

func (s *server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

func (s *server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.analyzer.Analyze(c.Request.Context(), req.Text)
	if err != nil {
		s.analysisError(c, err)
		return
	}
	s.remember(res)
	c.JSON(http.StatusOK, res)
}

func (s *server) handleTranscribe(c *gin.Context) {
	if s.transcriber == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription is not configured"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxAudioBytes)
	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing audio file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable audio file"})
		return
	}
	defer f.Close()

	text, err := stress.Transcribe(c.Request.Context(), s.transcriber, filepath.Base(fh.Filename), f)
	if err != nil {
		if errors.Is(err, stress.ErrNoTranscript) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.logger.Warn("transcription failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "transcription failed"})
		return
	}

	if analyze, _ := strconv.ParseBool(c.Query("analyze")); !analyze {
		c.JSON(http.StatusOK, transcribeResponse{Text: text})
		return
	}
	res, err := s.analyzer.AnalyzeTranscript(c.Request.Context(), text)
	if err != nil {
		s.analysisError(c, err)
		return
	}
	s.remember(res)
	c.JSON(http.StatusOK, res)
}

func (s *server) handleHistory(c *gin.Context) {
	limit := 0
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	if s.persistent {
		entries, err := s.recorder.Recent(limit)
		if err != nil {
			s.logger.Error("read history", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}
		c.JSON(http.StatusOK, historyResponse{Entries: nonNil(entries)})
		return
	}
	c.JSON(http.StatusOK, historyResponse{Entries: nonNil(s.history.Recent(limit))})
}

func (s *server) remember(res stress.Result) {
	modelSource := stress.SourceStructured
	if s.analyzer.ModelReply == stress.ReplyEmotion {
		modelSource = stress.SourceEmotion
	}
	s.metrics.observe(res, modelSource)
	s.history.Append(stress.EntryFromResult(res))
	if err := s.recorder.Record(res); err != nil {
		s.logger.Warn("record history", "err", err)
	}
}

func (s *server) analysisError(c *gin.Context, err error) {
	if errors.Is(err, stress.ErrEmptyInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Only a cancelled request context reaches here.
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}

func nonNil(entries []stress.HistoryEntry) []stress.HistoryEntry {
	if entries == nil {
		return []stress.HistoryEntry{}
	}
	return entries
}
