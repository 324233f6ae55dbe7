package archive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/naoTimesdev/naotimes-og/internal/storage/memory"
)

type recordingLedger struct {
	mu   sync.Mutex
	rows []Record
	err  error
}

func (l *recordingLedger) InsertRender(_ context.Context, r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, r)
	return l.err
}

func (l *recordingLedger) snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.rows...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	sent   []Notification
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, n Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.sent = append(p.sent, n)
	return "msg-1", nil
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

var created = time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)

func testArtifact() Artifact {
	return Artifact{
		ID:        "0b0e",
		Kind:      "UserCard",
		Query:     "username=a",
		Data:      []byte("hello world"),
		Duration:  150 * time.Millisecond,
		CreatedAt: created,
	}
}

func TestRunStoresLedgersAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ledger := &recordingLedger{}
	pub := &recordingPublisher{}
	a := New(Config{Topic: "renders", PathPrefix: "/cards/"}, blobs, ledger, pub)

	require.NoError(t, a.Run(context.Background(), testArtifact()))

	obj, ok := blobs.Get("cards/usercard/2024/03/09/0b0e.UserCard.png")
	require.True(t, ok)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, []byte("hello world"), obj.Data)

	rows := ledger.snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "ok", rows[0].Outcome)
	require.Equal(t, 11, rows[0].Bytes)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", rows[0].SHA256)
	require.NotEmpty(t, rows[0].BlobURI)

	require.Equal(t, []string{"renders"}, pub.topics)
	require.Equal(t, rows[0].BlobURI, pub.sent[0].BlobURI)
	require.Equal(t, rows[0].SHA256, pub.sent[0].SHA256)
}

func TestRunFailedRenderOnlyLedgers(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	ledger := &recordingLedger{}
	pub := &recordingPublisher{}
	a := New(Config{Topic: "renders"}, blobs, ledger, pub)

	art := testArtifact()
	art.Data = nil
	art.FailedStage = "WaitingForReadySignal"
	require.NoError(t, a.Run(context.Background(), art))

	require.Empty(t, blobs.Paths())
	require.Empty(t, pub.sent)
	rows := ledger.snapshot()
	require.Len(t, rows, 1)
	require.Equal(t, "failed", rows[0].Outcome)
	require.Equal(t, "WaitingForReadySignal", rows[0].FailedStage)
	require.Empty(t, rows[0].SHA256)
}

func TestRunContinuesPastFailedStep(t *testing.T) {
	t.Parallel()

	ledger := &recordingLedger{}
	a := New(Config{}, failingStore{}, ledger, nil)

	err := a.Run(context.Background(), testArtifact())
	require.ErrorContains(t, err, "bucket gone")
	require.Len(t, ledger.snapshot(), 1)
}

func TestArchiveRunsInBackgroundAndCloseDrains(t *testing.T) {
	t.Parallel()

	ledger := &recordingLedger{}
	a := New(Config{}, nil, ledger, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Archive(testArtifact()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	require.Len(t, ledger.snapshot(), 5)

	require.ErrorIs(t, a.Archive(testArtifact()), ErrClosed)
}

func TestArchiveDisabled(t *testing.T) {
	t.Parallel()

	a := New(Config{}, nil, nil, nil)
	require.False(t, a.Enabled())
	require.NoError(t, a.Archive(testArtifact()))

	var nilArchiver *Archiver
	require.False(t, nilArchiver.Enabled())
	require.NoError(t, nilArchiver.Close(context.Background()))
}
