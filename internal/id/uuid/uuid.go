// Package uuid generates artifact and ledger identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string, used for ledger rows.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewArtifactID returns a random UUIDv4 string. It names downloaded
// artifacts, so it must not leak render order.
func (Generator) NewArtifactID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// Filename returns the attachment filename of an artifact of kind.
func Filename(id, kind string) string {
	return id + "." + kind + ".png"
}
