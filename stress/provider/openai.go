package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"

	"github.com/theimaginaryfoundation/stress-check/stress"
)

// RetryPolicy controls CallWithRetry. Each slice holds the wait before the next attempt.
type RetryPolicy struct {
	MaxAttempts          int
	RateLimitWaitTimes   []time.Duration
	ServerErrorWaitTimes []time.Duration
}

// DefaultRetryPolicy keeps retries short enough to fit inside a per-signal timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          2,
		RateLimitWaitTimes:   []time.Duration{2 * time.Second},
		ServerErrorWaitTimes: []time.Duration{1 * time.Second},
	}
}

func CallWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams, policy RetryPolicy) (*responses.Response, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}

		var wait time.Duration
		switch {
		case isQuotaExhausted(err):
			return nil, err
		case isRateLimitError(err):
			wait = waitAt(policy.RateLimitWaitTimes, attempt)
		case isServerError(err):
			wait = waitAt(policy.ServerErrorWaitTimes, attempt)
		default:
			return nil, err
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

func waitAt(waits []time.Duration, attempt int) time.Duration {
	if len(waits) == 0 {
		return 0
	}
	if attempt < len(waits) {
		return waits[attempt]
	}
	return waits[len(waits)-1]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// apiError returns the typed API error in err's chain, if any. Typed errors are classified by
// status and code only; their message embeds the request URL, which may contain any digits.
func apiError(err error) (*openai.Error, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

// isQuotaExhausted reports a 429 that retrying will not fix.
func isQuotaExhausted(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		return apiErr.Code == "insufficient_quota" || apiErr.Type == "insufficient_quota"
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "insufficient_quota") ||
		strings.Contains(errStr, "exceeded your current quota")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		return apiErr.StatusCode >= 500
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

func isModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := apiError(err); ok {
		return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "model_not_found"
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist")
}

// shouldFallBack reports whether the next model in a fallback chain may succeed where this one
// failed.
func shouldFallBack(err error) bool {
	return isQuotaExhausted(err) || isRateLimitError(err) || isModelUnavailable(err)
}

// OpenAIClassifier implements stress.Classifier with the Responses API. Models are tried in
// order; the next model is used only after quota, rate-limit or model-not-found errors.
type OpenAIClassifier struct {
	client          *openai.Client
	models          []string
	maxOutputTokens int64
	retry           RetryPolicy

	schemas sync.Map // reply name -> map[string]any
}

// ClassifierOption configures an OpenAIClassifier.
type ClassifierOption func(*OpenAIClassifier)

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(n int64) ClassifierOption {
	return func(c *OpenAIClassifier) { c.maxOutputTokens = n }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClassifierOption {
	return func(c *OpenAIClassifier) { c.retry = p }
}

// NewOpenAIClassifier returns a classifier over client trying models in order.
func NewOpenAIClassifier(client *openai.Client, models []string, opts ...ClassifierOption) (*OpenAIClassifier, error) {
	if client == nil {
		return nil, errors.New("openAIClassifier: client is nil")
	}
	var cleaned []string
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("openAIClassifier: no models")
	}
	c := &OpenAIClassifier{
		client:          client,
		models:          cleaned,
		maxOutputTokens: 400,
		retry:           DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Models returns the fallback chain.
func (c *OpenAIClassifier) Models() []string { return append([]string(nil), c.models...) }

func (c *OpenAIClassifier) Classify(ctx context.Context, req stress.ClassifyRequest) (string, error) {
	var errs []error
	for _, model := range c.models {
		out, err := c.classifyWith(ctx, model, req)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("model %s: %w", model, err))
		if ctx.Err() != nil || !shouldFallBack(err) {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (c *OpenAIClassifier) classifyWith(ctx context.Context, model string, req stress.ClassifyRequest) (string, error) {
	params := responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Instructions:    openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Input, responses.EasyInputMessageRoleUser),
			},
		},
	}
	if schema := c.schemaFor(req); schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        req.Name,
					Schema:      schema,
					Strict:      openai.Bool(true),
					Description: openai.String(req.Name + " JSON"),
					Type:        "json_schema",
				},
			},
		}
	}

	resp, err := CallWithRetry(ctx, c.client, params, c.retry)
	if err != nil {
		return "", err
	}
	return resp.OutputText(), nil
}

func (c *OpenAIClassifier) schemaFor(req stress.ClassifyRequest) map[string]any {
	if req.Shape == nil || req.Name == "" {
		return nil
	}
	if v, ok := c.schemas.Load(req.Name); ok {
		return v.(map[string]any)
	}
	schema, err := SchemaFor(req.Shape)
	if err != nil {
		return nil
	}
	c.schemas.Store(req.Name, schema)
	return schema
}

// OpenAITranscriber implements stress.Transcriber with the audio transcription endpoint.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

// NewOpenAITranscriber returns a transcriber using model (whisper-1 when empty).
func NewOpenAITranscriber(client *openai.Client, model string) (*OpenAITranscriber, error) {
	if client == nil {
		return nil, errors.New("openAITranscriber: client is nil")
	}
	if strings.TrimSpace(model) == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAITranscriber{client: client, model: model}, nil
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if audio == nil {
		return "", errors.New("openAITranscriber: audio is nil")
	}
	if filename == "" {
		filename = "audio.wav"
	}
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, audioContentType(filename)),
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func audioContentType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(lower, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(lower, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(lower, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(lower, ".flac"):
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

// SchemaFor reflects the type of v into a strict JSON schema.
func SchemaFor(v any) (map[string]interface{}, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		return nil, err
	}
	ensureOpenAICompliance(schemaObj)
	return schemaObj, nil
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	typeKey                 = "type"
	requiredKey             = "required"
	itemsKey                = "items"
	schemaKey               = "$schema"
	idKey                   = "$id"
)

// ensureOpenAICompliance closes every object and marks all of its properties required, which
// strict structured output demands.
func ensureOpenAICompliance(schema map[string]interface{}) {
	delete(schema, schemaKey)
	delete(schema, idKey)

	if schemaType, ok := schema[typeKey].(string); ok && schemaType == "object" {
		schema[additionalPropertiesKey] = false

		if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
			var requiredFields []string
			for propName := range properties {
				requiredFields = append(requiredFields, propName)
			}
			if len(requiredFields) > 0 {
				sort.Strings(requiredFields)
				schema[requiredKey] = requiredFields
			}
		}
	}

	if properties, ok := schema[propertiesKey].(map[string]interface{}); ok {
		for _, prop := range properties {
			if propMap, ok := prop.(map[string]interface{}); ok {
				ensureOpenAICompliance(propMap)
			}
		}
	}

	if items, ok := schema[itemsKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(items)
	}

	if additionalProps, ok := schema[additionalPropertiesKey].(map[string]interface{}); ok {
		ensureOpenAICompliance(additionalProps)
	}
}
