package archive

import (
	"context"
	"time"
)

// Ledger persists one row per render.
type Ledger interface {
	InsertRender(ctx context.Context, record Record) error
}

// Publisher pushes render notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, n Notification) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Record is a render ledger row.
type Record struct {
	ID          string
	Kind        string
	Query       string
	Outcome     string
	FailedStage string
	Bytes       int
	Duration    time.Duration
	BlobURI     string
	SHA256      string
	CreatedAt   time.Time
}

// Notification is the published payload for a stored artifact.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	BlobURI   string    `json:"blob_uri,omitempty"`
	SHA256    string    `json:"sha256"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact is the input of one archive run.
type Artifact struct {
	ID          string
	Kind        string
	Query       string
	Data        []byte
	FailedStage string
	Duration    time.Duration
	CreatedAt   time.Time
}

// OK reports whether the render produced image bytes.
func (a Artifact) OK() bool {
	return len(a.Data) > 0
}
