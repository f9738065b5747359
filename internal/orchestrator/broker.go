package orchestrator

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Updates are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ProgressBroker fans out job progress percentages to subscribers.
// It is safe for concurrent use.
//
// Closed topics are kept as markers so that subscribers arriving after a
// job finished receive a closed channel instead of blocking forever.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan int
	nextID int
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Open prepares the topic for a job that is about to run, discarding the
// closed marker of an earlier run with the same id.
func (b *ProgressBroker) Open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[jobID]; ok && !t.closed {
		return
	}
	b.topics[jobID] = &progressTopic{subs: make(map[int]chan int)}
}

// Subscribe returns a channel of progress percentages for jobID and an
// unsubscribe function. If the job has already finished the channel is
// closed.
func (b *ProgressBroker) Subscribe(jobID string) (<-chan int, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan int)}
		b.topics[jobID] = t
	}

	ch := make(chan int, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends pct to all subscribers of jobID, dropping it for
// subscribers whose buffers are full.
func (b *ProgressBroker) Publish(jobID string, pct int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- pct:
		default:
		}
	}
}

// Close ends the topic for jobID, closing every subscriber channel.
func (b *ProgressBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		b.topics[jobID] = &progressTopic{subs: make(map[int]chan int), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
