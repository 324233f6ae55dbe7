// Package archive fans a finished artifact out to blob storage, the render
// ledger and the notification topic. Every step is best-effort: failures are
// logged and counted and never reach the HTTP response.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/hash/sha256"
	"github.com/naoTimesdev/naotimes-og/internal/id/uuid"
	"github.com/naoTimesdev/naotimes-og/internal/storage"
	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
)

const (
	defaultTimeout = 30 * time.Second

	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// ErrClosed is returned by Archive after Close.
var ErrClosed = errors.New("archiver closed")

// Config controls the Archiver.
type Config struct {
	// Topic receives a Notification per stored artifact.
	Topic string
	// PathPrefix is prepended to object paths.
	PathPrefix string
	// Timeout bounds one archive run.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Archiver runs archive work on detached goroutines.
type Archiver struct {
	blobs     storage.BlobStore
	ledger    Ledger
	publisher Publisher
	hasher    Hasher
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds an Archiver. Any of blobs, ledger or publisher may be nil to
// skip that step.
func New(cfg Config, blobs storage.BlobStore, ledger Ledger, publisher Publisher) *Archiver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		blobs:     blobs,
		ledger:    ledger,
		publisher: publisher,
		hasher:    sha256.New(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Enabled reports whether any archive step is configured.
func (a *Archiver) Enabled() bool {
	return a != nil && (a.blobs != nil || a.ledger != nil || a.publisher != nil)
}

// Archive schedules art in the background and returns immediately.
func (a *Archiver) Archive(art Artifact) error {
	if !a.Enabled() {
		return nil
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
		defer cancel()
		if err := a.Run(ctx, art); err != nil {
			a.logger.Warn("archive incomplete",
				zap.String("id", art.ID),
				zap.String("kind", art.Kind),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Run archives art synchronously. Steps run in order blob, ledger,
// notification; a failed step does not stop the following ones.
func (a *Archiver) Run(ctx context.Context, art Artifact) error {
	if art.CreatedAt.IsZero() {
		art.CreatedAt = time.Now().UTC()
	}
	rec := Record{
		ID:          art.ID,
		Kind:        art.Kind,
		Query:       art.Query,
		Outcome:     outcomeOK,
		FailedStage: art.FailedStage,
		Bytes:       len(art.Data),
		Duration:    art.Duration,
		CreatedAt:   art.CreatedAt,
	}
	var errs []error
	if !art.OK() {
		rec.Outcome = outcomeFailed
	} else {
		sum, err := a.hasher.Hash(art.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("hash artifact: %w", err))
		}
		rec.SHA256 = sum
	}

	if a.blobs != nil && art.OK() {
		uri, err := a.blobs.PutObject(ctx, a.ObjectPath(art), "image/png", bytes.NewReader(art.Data))
		a.observe("blob", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("store blob: %w", err))
		}
		rec.BlobURI = uri
	}
	if a.ledger != nil {
		err := a.ledger.InsertRender(ctx, rec)
		a.observe("ledger", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert ledger row: %w", err))
		}
	}
	if a.publisher != nil && a.cfg.Topic != "" && art.OK() {
		_, err := a.publisher.Publish(ctx, a.cfg.Topic, Notification{
			ID:        rec.ID,
			Kind:      rec.Kind,
			BlobURI:   rec.BlobURI,
			SHA256:    rec.SHA256,
			Bytes:     rec.Bytes,
			CreatedAt: rec.CreatedAt,
		})
		a.observe("publish", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish notification: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ObjectPath is the blob path for art: <prefix>/<kind>/<yyyy>/<mm>/<dd>/<id>.<kind>.png.
func (a *Archiver) ObjectPath(art Artifact) string {
	ts := art.CreatedAt.UTC()
	return path.Join(strings.Trim(a.cfg.PathPrefix, "/"), strings.ToLower(art.Kind), ts.Format("2006/01/02"),
		uuid.Filename(art.ID, art.Kind))
}

// Close stops intake and waits for scheduled runs, bounded by ctx.
func (a *Archiver) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archive drain: %w", ctx.Err())
	}
}

func (a *Archiver) observe(target string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.ObserveArchive(target, result)
}
