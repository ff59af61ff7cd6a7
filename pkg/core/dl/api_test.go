package dl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

type fakeMessage struct {
	name string
}

func (m *fakeMessage) Download(_ context.Context, dir string) (string, error) {
	p := filepath.Join(dir, m.name)
	return p, os.WriteFile(p, []byte("telegram"), 0o644)
}

type fakePlatform struct {
	mu    sync.Mutex
	chat  string
	id    int
	msg   Message
	err   error
	calls int
}

func (p *fakePlatform) GetMessage(_ context.Context, chat string, id int) (Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.chat, p.id = chat, id
	return p.msg, p.err
}

// apiServer answers /api/track with cdnurl and counts the calls.
func apiServer(t *testing.T, cdnurl func(r *http.Request) string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/track" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"cdnurl":%q}`, cdnurl(r))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_NotConfigured(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	o := NewOrchestrator("", c, nil)

	_, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	assert.ErrorIs(t, err, ErrAPINotConfigured)
}

func TestResolve_EmptyVideoID(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	o := NewOrchestrator("https://api.example.com", c, nil)

	_, err := o.Resolve(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrInvalidVideoID)
}

func TestTrackURL(t *testing.T) {
	o := NewOrchestrator("https://api.example.com/", nil, nil)
	assert.Equal(t,
		"https://api.example.com/api/track?url=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3DdQw4w9WgXcQ&video=true",
		o.TrackURL("dQw4w9WgXcQ", true))
}

func TestResolve_DirectDownload(t *testing.T) {
	var cdnCalls atomic.Int32
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnCalls.Add(1)
		_, _ = fmt.Fprint(w, "m4a-bytes")
	}))
	defer cdn.Close()

	var apiCalls atomic.Int32
	var gotQuery atomic.Value
	api := apiServer(t, func(r *http.Request) string {
		gotQuery.Store(r.URL.Query())
		return cdn.URL + "/files/some-name.m4a?token=1"
	}, &apiCalls)

	c, _ := newTestClient(t, Options{APIURL: api.URL, APIKey: "k"})
	o := NewOrchestrator(api.URL, c, nil)

	p, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.DownloadsDir(), "dQw4w9WgXcQ.m4a"), p)
	assert.Equal(t, int32(1), cdnCalls.Load())

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "m4a-bytes", string(data))

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", q.Get("url"))
	assert.Equal(t, "false", q.Get("video"))

	// A second resolution finds the file already on disk.
	p2, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	assert.Equal(t, int32(1), cdnCalls.Load())
	assert.Equal(t, int32(2), apiCalls.Load())
}

func TestResolve_VideoUsesSeparateFile(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "video")
	}))
	defer cdn.Close()

	var apiCalls atomic.Int32
	api := apiServer(t, func(r *http.Request) string { return cdn.URL + "/v.mp4" }, &apiCalls)

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, nil)

	p, err := o.Resolve(context.Background(), "abcdefghijk", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.DownloadsDir(), "abcdefghijk_video.mp4"), p)
}

func TestResolve_MissingCDNURLSkipsDownload(t *testing.T) {
	var apiCalls atomic.Int32
	api := apiServer(t, func(*http.Request) string { return "  " }, &apiCalls)
	platform := &fakePlatform{}

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, platform)

	_, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	assert.ErrorIs(t, err, ErrMissingCDNURL)
	assert.Zero(t, platform.calls)

	entries, err := os.ReadDir(c.DownloadsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolve_APIFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer api.Close()

	c, _ := newTestClient(t, Options{APIURL: api.URL, MaxRetries: 2})
	o := NewOrchestrator(api.URL, c, nil)

	_, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	assert.ErrorIs(t, err, ErrAPIRequest)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestResolve_DirectDownloadFailure(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cdn.Close()

	var apiCalls atomic.Int32
	api := apiServer(t, func(*http.Request) string { return cdn.URL + "/a.m4a" }, &apiCalls)

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, nil)

	_, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	assert.ErrorIs(t, err, ErrDirectDownload)
}

func TestResolve_TelegramLink(t *testing.T) {
	var apiCalls atomic.Int32
	api := apiServer(t, func(*http.Request) string { return "https://t.me/channelname/12345" }, &apiCalls)
	platform := &fakePlatform{msg: &fakeMessage{name: "song.ogg"}}

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, platform)

	p, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	assert.Equal(t, "channelname", platform.chat)
	assert.Equal(t, 12345, platform.id)
	assert.Equal(t, filepath.Join(c.DownloadsDir(), "song.ogg"), p)
}

func TestResolve_TelegramMessageNotFound(t *testing.T) {
	var apiCalls atomic.Int32
	api := apiServer(t, func(*http.Request) string { return "https://t.me/channelname/12345" }, &apiCalls)
	platform := &fakePlatform{err: ErrMessageNotFound}

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, platform)

	_, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	assert.ErrorIs(t, err, ErrPlatformFetch)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestResolve_TelegramWithoutPlatform(t *testing.T) {
	var apiCalls atomic.Int32
	api := apiServer(t, func(*http.Request) string { return "https://t.me/channelname/12345" }, &apiCalls)

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, nil)

	_, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
	assert.ErrorIs(t, err, ErrNoPlatform)
}

// gatedTransport blocks GetJSON until release is closed.
type gatedTransport struct {
	dir     string
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (g *gatedTransport) GetJSON(ctx context.Context, _ string, out any, _ ...RequestOption) error {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return err
	}
	out.(*cache.TrackDescriptor).CdnURL = "https://cdn.example.com/a.m4a"
	return nil
}

func (g *gatedTransport) DownloadFile(_ context.Context, _, destPath string, _ bool, _ ...DownloadOption) cache.DownloadResult {
	return cache.Delivered(destPath)
}

func (g *gatedTransport) DownloadsDir() string { return g.dir }

func TestResolve_ConcurrentCallsShareOneResolution(t *testing.T) {
	g := &gatedTransport{dir: t.TempDir(), started: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator("https://api.example.com", g, nil)

	const n = 8
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
		}(i)
	}

	<-g.started
	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.Equal(t, int32(1), g.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, filepath.Join(g.dir, "dQw4w9WgXcQ.m4a"), paths[i])
	}
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	g := &gatedTransport{dir: t.TempDir(), started: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator("https://api.example.com", g, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := o.Resolve(ctxA, "dQw4w9WgXcQ", false)
		errA <- err
	}()
	<-g.started

	type outcome struct {
		path string
		err  error
	}
	resB := make(chan outcome, 1)
	go func() {
		p, err := o.Resolve(context.Background(), "dQw4w9WgXcQ", false)
		resB <- outcome{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(g.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, filepath.Join(g.dir, "dQw4w9WgXcQ.m4a"), b.path)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestResolve_ExtensionlessCDNPathKeepsIDsApart(t *testing.T) {
	var cdnCalls atomic.Int32
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnCalls.Add(1)
		w.Header().Set("Content-Type", "audio/mp4")
		_, _ = fmt.Fprint(w, "bytes-of-"+r.URL.Query().Get("id"))
	}))
	defer cdn.Close()

	var apiCalls atomic.Int32
	api := apiServer(t, func(r *http.Request) string {
		u, _ := url.Parse(r.URL.Query().Get("url"))
		return cdn.URL + "/stream?id=" + u.Query().Get("v")
	}, &apiCalls)

	c, _ := newTestClient(t, Options{APIURL: api.URL})
	o := NewOrchestrator(api.URL, c, nil)

	for _, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb"} {
		p, err := o.Resolve(context.Background(), id, false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(c.DownloadsDir(), id+".m4a"), p)

		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "bytes-of-"+id, string(data))
	}
	assert.Equal(t, int32(2), cdnCalls.Load())

	// The inferred name is found again without touching the CDN.
	p, err := o.Resolve(context.Background(), "aaaaaaaaaaa", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.DownloadsDir(), "aaaaaaaaaaa.m4a"), p)
	assert.Equal(t, int32(2), cdnCalls.Load())
}

func TestDestinationFor(t *testing.T) {
	o := NewOrchestrator("https://api.example.com", &gatedTransport{dir: "dl"}, nil)

	dest, ext := o.destinationFor("id1", false, "https://cdn/x/y.webm?sig=2")
	assert.Equal(t, filepath.Join("dl", "id1.webm"), dest)
	assert.Equal(t, ".webm", ext)

	dest, _ = o.destinationFor("id1", true, "https://cdn/v.mp4")
	assert.Equal(t, filepath.Join("dl", "id1_video.mp4"), dest)

	dest, ext = o.destinationFor("id1", false, "https://cdn/stream?id=id1")
	assert.Equal(t, filepath.Join("dl", "id1"), dest)
	assert.Empty(t, ext)

	dest, ext = o.destinationFor("id1", false, "https://cdn/file.verylongext")
	assert.Equal(t, filepath.Join("dl", "id1"), dest)
	assert.Empty(t, ext)

	dest, _ = o.destinationFor("../", false, "https://cdn/a.mp3")
	assert.Empty(t, dest)
}
