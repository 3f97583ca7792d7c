// Package sink publishes output events to external systems.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"netshell/internal/logging"
	"netshell/internal/pipeline/types"
)

const (
	defaultBuffer    = 1024
	defaultBatchSize = 100
	flushInterval    = 200 * time.Millisecond
	writeTimeout     = 10 * time.Second
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Kafka publishes every event as a JSON message keyed by the pipeline run
// ID, so all events of one run land on the same partition in order.
//
// OnEvent never blocks the run: events are queued and written by a single
// goroutine in batches. When the queue is full events are dropped and
// counted.
type Kafka struct {
	writer messageWriter
	topic  string
	log    *logging.Logger

	events  chan types.OutputEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewKafka creates a sink writing to topic on brokers.
func NewKafka(cfg types.KafkaSink, log *logging.Logger) *Kafka {
	return newKafka(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}, cfg.Topic, log)
}

func newKafka(w messageWriter, topic string, log *logging.Logger) *Kafka {
	if log == nil {
		log = logging.WithFields(nil)
	}
	k := &Kafka{
		writer: w,
		topic:  topic,
		log:    log.WithFields(map[string]interface{}{"sink": "kafka", "topic": topic}),
		events: make(chan types.OutputEvent, defaultBuffer),
		done:   make(chan struct{}),
	}
	go k.loop()
	return k
}

// OnEvent queues ev for publishing.
func (k *Kafka) OnEvent(ev types.OutputEvent) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	select {
	case k.events <- ev:
	default:
		k.dropped++
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (k *Kafka) Dropped() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dropped
}

func (k *Kafka) loop() {
	defer close(k.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, defaultBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		k.write(batch)
		batch = batch[:0]
	}
	for {
		select {
		case ev, ok := <-k.events:
			if !ok {
				flush()
				return
			}
			msg, err := encode(ev)
			if err != nil {
				k.log.Error("failed to encode event", map[string]interface{}{"error": err.Error()})
				continue
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (k *Kafka) write(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, batch...); err != nil {
		fields := map[string]interface{}{"error": err.Error(), "messages": len(batch)}
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			fields["action"] = "create the topic manually or enable auto-creation"
		}
		k.log.Error("failed to publish events", fields)
	}
}

func encode(ev types.OutputEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   ev.RunID[:],
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "pipeline", Value: []byte(ev.PipelineName)},
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}, nil
}

// Close flushes queued events and closes the writer.
func (k *Kafka) Close() error {
	var err error
	k.once.Do(func() {
		k.mu.Lock()
		k.closed = true
		close(k.events)
		k.mu.Unlock()
		<-k.done
		err = k.writer.Close()
		if n := k.Dropped(); n > 0 {
			k.log.Warn("events dropped by full queue", map[string]interface{}{"dropped": n})
		}
	})
	return err
}
