package thumb

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func htmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func TestBandcamp(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/album/ok", htmlHandler(`<html><head><link rel="image_src" href="https://f4.bcbits.com/img/a1_10.jpg"></head></html>`))
	mux.Handle("/album/bare", htmlHandler(`<html><head><title>x</title></head></html>`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(Config{Timeout: time.Second})

	href, err := r.Bandcamp(context.Background(), srv.URL+"/album/ok")
	require.NoError(t, err)
	require.Equal(t, "https://f4.bcbits.com/img/a1_10.jpg", href)

	href, err = r.Bandcamp(context.Background(), srv.URL+"/album/ok")
	require.NoError(t, err, "revisits are allowed")
	require.NotEmpty(t, href)

	_, err = r.Bandcamp(context.Background(), srv.URL+"/album/bare")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Bandcamp(context.Background(), srv.URL+"/album/missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Bandcamp(context.Background(), "file:///etc/passwd")
	require.ErrorIs(t, err, ErrInvalidSource)
}

func TestSoundCloud(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/artist/track", func(w http.ResponseWriter, req *http.Request) {
		select {
		case agents <- req.Header.Get("User-Agent"):
		default:
		}
		htmlHandler(`<html><head><meta property="og:image" content="https://i1.sndcdn.com/artworks-500x500.jpg"></head></html>`)(w, req)
	})
	mux.HandleFunc("/artist/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(Config{SoundCloudBase: srv.URL + "/", Timeout: time.Second})

	href, err := r.SoundCloud(context.Background(), "artist", "track")
	require.NoError(t, err)
	require.Equal(t, "https://i1.sndcdn.com/artworks-500x500.jpg", href)
	require.Equal(t, DefaultUserAgent, <-agents)

	_, err = r.SoundCloud(context.Background(), "artist", "broken")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)

	_, err = r.SoundCloud(context.Background(), "artist", "")
	require.ErrorIs(t, err, ErrInvalidSource)
}

func TestYouTubeMusicAndCrop(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for x := 0; x < 1280; x++ {
		for y := 0; y < 720; y++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 280 && x < 1000 {
				c = color.RGBA{B: 255, A: 255}
			}
			src.Set(x, y, c)
		}
	}
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, src))

	mux := http.NewServeMux()
	mux.HandleFunc("/abc123/maxresdefault.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(encoded.Bytes())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(Config{YouTubeBase: srv.URL, Timeout: time.Second})
	raw, err := r.YouTubeMusic(context.Background(), "abc123")
	require.NoError(t, err)

	cropped, err := CropSquare(raw)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(cropped))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 720, 720), img.Bounds())
	for _, p := range []image.Point{{0, 0}, {719, 719}, {360, 10}} {
		_, _, b, _ := img.At(p.X, p.Y).RGBA()
		require.Equal(t, uint32(0xffff), b, p)
	}

	_, err = r.YouTubeMusic(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.YouTubeMusic(context.Background(), "../etc")
	require.ErrorIs(t, err, ErrInvalidSource)
}

func TestCropSquareRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := CropSquare([]byte("not an image"))
	require.Error(t, err)
}

func TestSquareRect(t *testing.T) {
	t.Parallel()

	require.Equal(t, image.Rect(280, 0, 1000, 720), squareRect(image.Rect(0, 0, 1280, 720)))
	require.Equal(t, image.Rect(0, 50, 100, 150), squareRect(image.Rect(0, 0, 100, 200)))
}

func TestVisitHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	r := New(Config{SoundCloudBase: srv.URL, Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.SoundCloud(ctx, "a", "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
