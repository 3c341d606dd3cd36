// Package broker implements §4.J: the Subscription Broker, fanning a
// job's sequenced BatchUpdates out to any number of subscribers that
// may join mid-job and replay from a given sequence. Generalizes
// internal/streaming/stream.go's single-subscriber event channel (same
// per-subscriber non-blocking send, context-driven close) into a
// multi-subscriber ring buffer with replay-then-live semantics.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"ckb/internal/codegraph"
)

const (
	// DefaultRingSize is BROKER_RING from SPEC_FULL §6.
	DefaultRingSize = 256
	// DefaultSubscriberBuffer is SUBSCRIBER_BUFFER from SPEC_FULL §6.
	DefaultSubscriberBuffer = 64
	// freshEntries is how many of the newest ring entries stay
	// uncompressed for zero-cost replay; anything older is compressed.
	freshEntries = 16
)

// ErrResyncRequired is returned by Subscribe when fromSequence is below
// the ring's floor: the caller must re-query the graph store instead of
// replaying from the broker.
var ErrResyncRequired = fmt.Errorf("broker: resync required")

type entry struct {
	seq        int64
	batch      codegraph.BatchUpdate
	compressed []byte // non-nil once this entry has aged out of freshEntries
}

// Topic is one job's ring buffer and live subscriber set.
type Topic struct {
	mu       sync.Mutex
	ring     []entry // ordered oldest..newest
	floor    int64   // sequence of the oldest entry still in the ring (0 until the first publish)
	nextSeq  int64
	subs     map[*Subscription]struct{}
	ringSize int
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// Subscription is a single subscriber's live feed.
type Subscription struct {
	topic  *Topic
	ch     chan codegraph.BatchUpdate
	closed bool
}

// C returns the channel of live batches for this subscription.
func (s *Subscription) C() <-chan codegraph.BatchUpdate { return s.ch }

// Close detaches the subscription from its topic.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.topic.subs, s)
	close(s.ch)
}

// Broker holds one Topic per job.
type Broker struct {
	mu       sync.Mutex
	topics   map[string]*Topic
	ringSize int
	subBuf   int
}

// New returns a Broker with the given ring and subscriber buffer sizes
// (zero selects SPEC_FULL §6 defaults).
func New(ringSize, subscriberBuffer int) *Broker {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Broker{
		topics:   map[string]*Topic{},
		ringSize: ringSize,
		subBuf:   subscriberBuffer,
	}
}

func (b *Broker) topicFor(jobID string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if ok {
		return t
	}
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	t = &Topic{
		subs:     map[*Subscription]struct{}{},
		ringSize: b.ringSize,
		encoder:  enc,
		decoder:  dec,
	}
	b.topics[jobID] = t
	return t
}

// Publish appends batch to jobID's ring and fans it out to live
// subscribers. A subscriber whose buffer is full is dropped (logged by
// the caller as errors.SlowConsumer) rather than blocking the publish
// path; the job itself is never affected by a slow consumer.
func (b *Broker) Publish(jobID string, batch codegraph.BatchUpdate) []*Subscription {
	t := b.topicFor(jobID)
	return t.publish(batch)
}

func (t *Topic) publish(batch codegraph.BatchUpdate) []*Subscription {
	t.mu.Lock()
	e := entry{seq: batch.Sequence, batch: batch}
	t.ring = append(t.ring, e)
	if len(t.ring) > t.ringSize {
		dropped := len(t.ring) - t.ringSize
		t.ring = t.ring[dropped:]
	}
	if len(t.ring) > 0 {
		t.floor = t.ring[0].seq
	}
	t.compressOldEntries()

	var dropped []*Subscription
	subs := make([]*Subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- batch:
		default:
			dropped = append(dropped, s)
		}
	}
	return dropped
}

// compressOldEntries zstd-compresses every ring entry older than the
// newest freshEntries, freeing the in-memory BatchUpdate's node/edge
// slices. Must be called with t.mu held.
func (t *Topic) compressOldEntries() {
	if len(t.ring) <= freshEntries {
		return
	}
	boundary := len(t.ring) - freshEntries
	for i := 0; i < boundary; i++ {
		if t.ring[i].compressed != nil {
			continue
		}
		raw, err := json.Marshal(t.ring[i].batch)
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		w := t.encoder
		w.Reset(&buf)
		if _, err := w.Write(raw); err != nil {
			continue
		}
		if err := w.Close(); err != nil {
			continue
		}
		t.ring[i].compressed = buf.Bytes()
		t.ring[i].batch = codegraph.BatchUpdate{}
	}
}

func (t *Topic) decompress(e entry) (codegraph.BatchUpdate, error) {
	if e.compressed == nil {
		return e.batch, nil
	}
	raw, err := t.decoder.DecodeAll(e.compressed, nil)
	if err != nil {
		return codegraph.BatchUpdate{}, fmt.Errorf("broker: decompress seq %d: %w", e.seq, err)
	}
	var batch codegraph.BatchUpdate
	if err := json.Unmarshal(raw, &batch); err != nil {
		return codegraph.BatchUpdate{}, err
	}
	return batch, nil
}

// Subscribe joins jobID's topic, replaying every retained batch with
// sequence >= fromSequence (0 means "from the beginning of the ring")
// before switching to live delivery. Returns ErrResyncRequired if
// fromSequence has already fallen below the ring floor.
func (b *Broker) Subscribe(ctx context.Context, jobID string, fromSequence int64) (*Subscription, []codegraph.BatchUpdate, error) {
	t := b.topicFor(jobID)
	t.mu.Lock()

	if fromSequence > 0 && len(t.ring) > 0 && fromSequence < t.floor {
		t.mu.Unlock()
		return nil, nil, ErrResyncRequired
	}

	var replay []entry
	for _, e := range t.ring {
		if e.seq >= fromSequence {
			replay = append(replay, e)
		}
	}

	sub := &Subscription{topic: t, ch: make(chan codegraph.BatchUpdate, b.subBuf)}
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	batches := make([]codegraph.BatchUpdate, 0, len(replay))
	for _, e := range replay {
		batch, err := t.decompress(e)
		if err != nil {
			return sub, batches, err
		}
		batches = append(batches, batch)
	}
	return sub, batches, nil
}

// Close discards a job's topic and detaches all subscribers, used when
// a job completes or is deleted.
func (b *Broker) Close(jobID string) {
	b.mu.Lock()
	t, ok := b.topics[jobID]
	delete(b.topics, jobID)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
