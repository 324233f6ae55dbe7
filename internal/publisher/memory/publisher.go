// Package memory keeps render notifications in process. It backs the memory
// archive backend for local runs and tests.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/naoTimesdev/naotimes-og/internal/archive"
)

// DefaultLimit is how many notifications New retains.
const DefaultLimit = 256

// PublishedMessage is one retained notification.
type PublishedMessage struct {
	ID           string
	Topic        string
	Notification archive.Notification
}

// Publisher retains the most recent notifications up to a limit, oldest
// dropped first.
type Publisher struct {
	mu       sync.Mutex
	limit    int
	seq      uint64
	messages []PublishedMessage
}

// New returns a Publisher retaining DefaultLimit notifications.
func New() *Publisher {
	return NewWithLimit(DefaultLimit)
}

// NewWithLimit returns a Publisher retaining at most limit notifications.
func NewWithLimit(limit int) *Publisher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Publisher{limit: limit}
}

// Publish implements archive.Publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, n archive.Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := "memory-" + strconv.FormatUint(p.seq, 10)
	if len(p.messages) == p.limit {
		copy(p.messages, p.messages[1:])
		p.messages = p.messages[:len(p.messages)-1]
	}
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Notification: n})
	return id, nil
}

// Messages returns a copy of the retained notifications, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// ByKind returns the retained notifications for one artifact kind.
func (p *Publisher) ByKind(kind string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Notification.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
