package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	store, err := New(client, Config{Bucket: "og", Prefix: "renders/", CacheControl: "public, max-age=600"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "2024/05/abc.UserCard.png", "image/png", bytes.NewReader([]byte("png")))
	require.NoError(t, err)
	require.Equal(t, "s3://og/renders/2024/05/abc.UserCard.png", uri)

	require.Equal(t, "og", aws.ToString(client.input.Bucket))
	require.Equal(t, "renders/2024/05/abc.UserCard.png", aws.ToString(client.input.Key))
	require.Equal(t, "image/png", aws.ToString(client.input.ContentType))
	require.Equal(t, "public, max-age=600", aws.ToString(client.input.CacheControl))
	require.Equal(t, int64(3), aws.ToInt64(client.input.ContentLength))
	require.Equal(t, "png", string(client.body))
}

func TestPutObjectError(t *testing.T) {
	t.Parallel()

	boom := errors.New("access denied")
	store, err := New(&fakeClient{err: boom}, Config{Bucket: "og"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a.png", "image/png", bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, boom)

	_, err = store.PutObject(context.Background(), "", "image/png", bytes.NewReader(nil))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "og"})
	require.Error(t, err)
	_, err = New(&fakeClient{}, Config{})
	require.Error(t, err)

	store, err := New(&fakeClient{}, Config{Bucket: "og"})
	require.NoError(t, err)
	require.Equal(t, defaultPutTimeout, store.cfg.Timeout)
	require.Equal(t, "a.png", store.Key("a.png"))
}
