package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Publisher is what a dead letter topic needs; *Producer satisfies it.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterTopic names the topic that holds messages of topic that kept failing.
func DeadLetterTopic(topic string) string { return topic + ".dlq" }

// Consumer hands messages to a pool of workers. A failing message is retried in
// place with a doubling backoff; offsets are committed per partition only up to
// the last message below which everything has been handled, so a later success
// never commits past a failure.
type Consumer struct {
	r       reader
	topic   string
	workers int

	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// DeadLetter receives messages that used every attempt, which are then committed.
	// Without it the consumer stops and the message stays uncommitted.
	DeadLetter Publisher
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, topic: topic, workers: workers}
}

// Start blocks until ctx is done, fetching fails, or a message fails every attempt
// with no dead letter topic; only the last two return an error.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := make(chan kafka.Message, 1024)
	track := newOffsets()
	var commitMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := c.process(ctx, h, m); err != nil {
					cancel(err)
					continue
				}
				commitMu.Lock()
				upto, ok := track.finish(m)
				if ok {
					if err := c.r.CommitMessages(ctx, upto); err != nil {
						log.Error().Err(err).Str("topic", c.topic).Int("partition", upto.Partition).Int64("offset", upto.Offset).Msg("commit failed")
					}
				}
				commitMu.Unlock()
			}
		}()
	}

	stop := func(err error) error {
		if err != nil {
			cancel(err)
		}
		close(jobs)
		wg.Wait()
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
			return cause
		}
		return nil
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return stop(err)
		}
		track.fetched(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			return stop(nil)
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) error {
	wait := c.backoff()
	var err error
	for attempt := 1; ; attempt++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		if attempt >= c.attempts() {
			break
		}
		log.Warn().Err(err).Str("topic", m.Topic).Int("partition", m.Partition).Int64("offset", m.Offset).Int("attempt", attempt).Msg("handler failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff())
	}

	if c.DeadLetter == nil {
		return fmt.Errorf("%s/%d@%d failed %d attempts: %w", m.Topic, m.Partition, m.Offset, c.attempts(), err)
	}
	headers := append(append([]kafka.Header(nil), m.Headers...),
		kafka.Header{Key: "x-dead-letter-topic", Value: []byte(m.Topic)},
		kafka.Header{Key: "x-dead-letter-partition", Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: "x-dead-letter-offset", Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: "x-dead-letter-error", Value: []byte(err.Error())},
	)
	c.DeadLetter.Publish(m.Key, m.Value, headers...)
	log.Error().Err(err).Str("topic", m.Topic).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("message sent to dead letter topic")
	return nil
}

func (c *Consumer) attempts() int {
	if c.Attempts <= 0 {
		return 5
	}
	return c.Attempts
}

func (c *Consumer) backoff() time.Duration {
	if c.Backoff <= 0 {
		return 200 * time.Millisecond
	}
	return c.Backoff
}

func (c *Consumer) maxBackoff() time.Duration {
	if c.MaxBackoff < c.backoff() {
		return 30 * c.backoff()
	}
	return c.MaxBackoff
}

// offsets tracks fetched and handled messages per partition.
type offsets struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	topic   string
	pending []int64 // fetch order
	done    map[int64]int
}

func newOffsets() *offsets { return &offsets{parts: map[int]*partitionOffsets{}} }

func (o *offsets) fetched(m kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[m.Partition]
	if p == nil {
		p = &partitionOffsets{topic: m.Topic, done: map[int64]int{}}
		o.parts[m.Partition] = p
	}
	p.pending = append(p.pending, m.Offset)
}

// finish marks m handled and returns the message to commit when the run of handled
// messages at the head of its partition grew.
func (o *offsets) finish(m kafka.Message) (kafka.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[m.Partition]
	if p == nil {
		return kafka.Message{}, false
	}
	p.done[m.Offset]++

	last, moved := int64(-1), false
	for len(p.pending) > 0 && p.done[p.pending[0]] > 0 {
		last = p.pending[0]
		if p.done[last]--; p.done[last] == 0 {
			delete(p.done, last)
		}
		p.pending = p.pending[1:]
		moved = true
	}
	if !moved {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: p.topic, Partition: m.Partition, Offset: last}, true
}
