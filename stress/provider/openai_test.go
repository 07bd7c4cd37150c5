package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/stress-check/stress"
)

func responseBody(text string) string {
	b, _ := json.Marshal(text)
	return `{"id":"resp_1","object":"response","created_at":0,"model":"m","status":"completed",` +
		`"output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed",` +
		`"content":[{"type":"output_text","text":` + string(b) + `,"annotations":[]}]}]}`
}

const quotaBody = `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","param":null,"code":"insufficient_quota"}}`

type recordedRequest struct {
	Path  string
	Model string
	Body  map[string]any
}

func newTestServer(t *testing.T, handle func(r recordedRequest, w http.ResponseWriter)) (*openai.Client, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Path: r.URL.Path}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, &rec.Body)
			rec.Model, _ = rec.Body["model"].(string)
		}
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handle(rec, w)
	}))
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
	return &client, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), seen...)
	}
}

func noRetry() RetryPolicy { return RetryPolicy{MaxAttempts: 1} }

func TestOpenAIClassifier_ReturnsOutputTextAndSendsSchema(t *testing.T) {
	t.Parallel()

	client, seen := newTestServer(t, func(r recordedRequest, w http.ResponseWriter) {
		_, _ = io.WriteString(w, responseBody(`{"score": 70, "evidence": ["tired"], "confidence": 0.8}`))
	})
	c, err := NewOpenAIClassifier(client, []string{"gpt-test"}, WithRetryPolicy(noRetry()), WithMaxOutputTokens(123))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := c.Classify(context.Background(), stress.ClassifyRequest{
		Name:         "StressJudgment",
		Instructions: "rate",
		Input:        "I am tired",
		Shape:        stress.StructuredReply{},
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(got, `"score": 70`) {
		t.Fatalf("got=%q", got)
	}

	reqs := seen()
	if len(reqs) != 1 {
		t.Fatalf("requests=%d", len(reqs))
	}
	req := reqs[0]
	if req.Path != "/responses" || req.Model != "gpt-test" {
		t.Fatalf("path=%q model=%q", req.Path, req.Model)
	}
	if req.Body["max_output_tokens"] != float64(123) {
		t.Fatalf("max_output_tokens=%v", req.Body["max_output_tokens"])
	}
	text, _ := req.Body["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_schema" || format["name"] != "StressJudgment" || format["strict"] != true {
		t.Fatalf("format=%v", format)
	}
}

func TestOpenAIClassifier_FallsBackOnQuotaError(t *testing.T) {
	t.Parallel()

	client, seen := newTestServer(t, func(r recordedRequest, w http.ResponseWriter) {
		if r.Model == "primary" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, quotaBody)
			return
		}
		_, _ = io.WriteString(w, responseBody(`{"intensity": 40, "confidence": 0.5}`))
	})
	c, err := NewOpenAIClassifier(client, []string{"primary", " ", "backup"}, WithRetryPolicy(noRetry()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.Models(); len(got) != 2 {
		t.Fatalf("models=%v", got)
	}

	got, err := c.Classify(context.Background(), stress.ClassifyRequest{Name: "IntensityJudgment", Input: "x"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(got, `"intensity": 40`) {
		t.Fatalf("got=%q", got)
	}
	reqs := seen()
	if len(reqs) != 2 || reqs[0].Model != "primary" || reqs[1].Model != "backup" {
		t.Fatalf("seen=%+v", reqs)
	}
}

func TestOpenAIClassifier_DoesNotFallBackOnBadRequest(t *testing.T) {
	t.Parallel()

	client, seen := newTestServer(t, func(r recordedRequest, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error","param":null,"code":null}}`)
	})
	c, err := NewOpenAIClassifier(client, []string{"a", "b"}, WithRetryPolicy(noRetry()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Classify(context.Background(), stress.ClassifyRequest{Name: "X", Input: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if n := len(seen()); n != 1 {
		t.Fatalf("requests=%d", n)
	}
}

func TestCallWithRetry_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	client, _ := newTestServer(t, func(r recordedRequest, w http.ResponseWriter) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error","param":null,"code":null}}`)
			return
		}
		_, _ = io.WriteString(w, responseBody("ok"))
	})
	c, err := NewOpenAIClassifier(client, []string{"m"}, WithRetryPolicy(RetryPolicy{
		MaxAttempts:          2,
		ServerErrorWaitTimes: []time.Duration{time.Millisecond},
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := c.Classify(context.Background(), stress.ClassifyRequest{Name: "X", Input: "x"})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got != "ok" || calls != 2 {
		t.Fatalf("got=%q calls=%d", got, calls)
	}
}

func TestSleepCtx_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepCtx(ctx, time.Minute); err == nil {
		t.Fatalf("expected ctx error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not stop on cancel")
	}
}

func TestNewOpenAIClassifier_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAIClassifier(nil, []string{"m"}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := openai.NewClient(option.WithAPIKey("k"))
	if _, err := NewOpenAIClassifier(&client, []string{"", "  "}); err == nil {
		t.Fatalf("expected error for empty models")
	}
}

func TestOpenAITranscriber(t *testing.T) {
	t.Parallel()

	client, seen := newTestServer(t, func(r recordedRequest, w http.ResponseWriter) {
		_, _ = io.WriteString(w, `{"text":"  I feel tired  "}`)
	})
	tr, err := NewOpenAITranscriber(client, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), "note.mp3", strings.NewReader("fake audio"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "I feel tired" {
		t.Fatalf("got=%q", got)
	}
	reqs := seen()
	if len(reqs) != 1 || reqs[0].Path != "/audio/transcriptions" {
		t.Fatalf("seen=%+v", reqs)
	}
}

func TestSchemaFor_StrictObject(t *testing.T) {
	t.Parallel()

	schema, err := SchemaFor(stress.StructuredReply{})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("type=%v", schema["type"])
	}
	if schema["additionalProperties"] != false {
		t.Fatalf("additionalProperties=%v", schema["additionalProperties"])
	}
	req, _ := schema["required"].([]string)
	if strings.Join(req, ",") != "confidence,evidence,score" {
		t.Fatalf("required=%v", schema["required"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Fatalf("$schema should be stripped")
	}
}

func TestSchemaFor_ClosesNestedItems(t *testing.T) {
	t.Parallel()

	schema, err := SchemaFor(stress.EmotionReply{})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	props, _ := schema["properties"].(map[string]interface{})
	emotions, _ := props["emotions"].(map[string]interface{})
	items, _ := emotions["items"].(map[string]interface{})
	if items["type"] != "object" || items["additionalProperties"] != false {
		t.Fatalf("items=%v", items)
	}
	req, _ := items["required"].([]string)
	if strings.Join(req, ",") != "label,score" {
		t.Fatalf("required=%v", items["required"])
	}
}

func TestAudioContentType(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a.MP3":  "audio/mpeg",
		"a.m4a":  "audio/mp4",
		"a.ogg":  "audio/ogg",
		"a.wav":  "audio/wav",
		"a.flac": "audio/flac",
		"a.bin":  "audio/wav",
	}
	for in, want := range cases {
		if got := audioContentType(in); got != want {
			t.Fatalf("%s: got=%q want=%q", in, got, want)
		}
	}
}
