package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/theimaginaryfoundation/stress-check/stress"
)

// EventTypeAnalysis tags every published analysis event.
const EventTypeAnalysis = "stress.analysis.v1"

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds each publish. Zero means 5s.
	WriteTimeout time.Duration
}

// AnalysisEvent is the message published for each analysis. The input text is never included.
type AnalysisEvent struct {
	Type           string    `json:"type"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
	InputType      string    `json:"input_type"`
	Score          int       `json:"score"`
	Band           string    `json:"band"`
	LexScore       int       `json:"lex_score"`
	ModelScore     *int      `json:"model_score,omitempty"`
	ReasoningScore *int      `json:"reasoning_score,omitempty"`
	LexiconOnly    bool      `json:"lexicon_only"`
	FloorApplied   bool      `json:"floor_applied"`
}

// EventFromResult builds the published form of r.
func EventFromResult(r stress.Result) AnalysisEvent {
	return AnalysisEvent{
		Type:           EventTypeAnalysis,
		AnalyzedAt:     r.AnalyzedAt,
		InputType:      r.InputType,
		Score:          r.Score,
		Band:           r.Severity.Label,
		LexScore:       r.Meta.LexiconScore,
		ModelScore:     r.Meta.ModelScore,
		ReasoningScore: r.Meta.ReasoningScore,
		LexiconOnly:    r.Meta.LexiconOnly,
		FloorApplied:   r.Meta.FloorApplied,
	}
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const kafkaQueueSize = 256

var (
	errPublisherNilWriter = errors.New("kafka publisher requires a writer")
	errPublisherClosed    = errors.New("kafka publisher is closed")
	errPublisherQueueFull = errors.New("kafka publish queue is full")
)

// KafkaPublisher is a Sink that publishes an AnalysisEvent per result, keyed by band. Record
// only enqueues; a background loop delivers, so a slow or unreachable broker never holds up
// the caller. Delivery failures are logged and counted.
type KafkaPublisher struct {
	writer  kafkaMessageWriter
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewKafkaPublisher builds a publisher for cfg.
func NewKafkaPublisher(cfg KafkaConfig, log *slog.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
		// Flush single events promptly; BatchSize is never reached.
		BatchTimeout: 5 * time.Millisecond,
	}
	return newKafkaPublisherWithWriter(w, cfg.WriteTimeout, log)
}

func newKafkaPublisherWithWriter(w kafkaMessageWriter, timeout time.Duration, log *slog.Logger) (*KafkaPublisher, error) {
	if w == nil {
		return nil, errPublisherNilWriter
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &KafkaPublisher{
		writer:  w,
		timeout: timeout,
		log:     log.With("component", "kafka_publisher"),
		queue:   make(chan kafka.Message, kafkaQueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Record enqueues the event for r. It fails only when the event cannot be encoded, the queue
// is full or the publisher is closed.
func (p *KafkaPublisher) Record(r stress.Result) error {
	evt := EventFromResult(r)
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode analysis event: %w", err)
	}
	msg := kafka.Message{Key: []byte(evt.Band), Value: value}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPublisherClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		p.failed.Add(1)
		p.log.Warn("publish queue full; dropping event", "band", evt.Band)
		return errPublisherQueueFull
	}
}

// Close stops accepting events, delivers what is queued and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.log.Debug("publisher stopped", "delivered", p.delivered.Load(), "failed", p.failed.Load())
	return p.writer.Close()
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		p.deliver(msg)
	}
}

func (p *KafkaPublisher) deliver(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		p.log.Error("publish failed", "err", err, "band", string(msg.Key))
		return
	}
	p.delivered.Add(1)
	p.log.Debug("published", "band", string(msg.Key))
}
