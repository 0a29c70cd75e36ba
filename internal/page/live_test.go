package page

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creatormvp/live"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctxRe    = regexp.MustCompile(`live-ctx(?:&#39;|')\s*:\s*(?:&#39;|')([^&']+)`)
	csrfRe   = regexp.MustCompile(`live-csrf(?:&#39;|')\s*:\s*(?:&#39;|')([0-9a-f]+)`)
	actionRe = regexp.MustCompile(`/_action/([0-9a-f]+)`)
)

type loadedPage struct {
	body     string
	ctxID    string
	csrf     string
	actionID string
}

func (lp loadedPage) signals(csrf string) string {
	b, _ := json.Marshal(map[string]string{"live-ctx": lp.ctxID, "live-csrf": csrf})
	return url.QueryEscape(string(b))
}

func newTestServer(t *testing.T, p *Page, opts live.Options) *httptest.Server {
	t.Helper()
	quiet := zerolog.Nop()
	opts.Logger = &quiet
	opts.ContextTTL = -1

	v := live.New()
	v.Config(opts)
	p.Mount(v)

	srv := httptest.NewServer(v.Handler())
	t.Cleanup(func() {
		v.Shutdown()
		srv.Close()
	})
	return srv
}

func load(t *testing.T, client *http.Client, rawURL string) loadedPage {
	t.Helper()
	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	lp := loadedPage{body: string(body)}
	m := ctxRe.FindStringSubmatch(lp.body)
	require.Len(t, m, 2, "page context id not found")
	lp.ctxID = m[1]
	m = csrfRe.FindStringSubmatch(lp.body)
	require.Len(t, m, 2, "csrf token not found")
	lp.csrf = m[1]
	m = actionRe.FindStringSubmatch(lp.body)
	require.Len(t, m, 2, "click action not found")
	lp.actionID = m[1]
	return lp
}

func clickWith(client *http.Client, srvURL string, lp loadedPage, csrf string) (int, error) {
	resp, err := client.Get(srvURL + "/_action/" + lp.actionID + "?datastar=" + lp.signals(csrf))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func click(t *testing.T, client *http.Client, srvURL string, lp loadedPage) {
	t.Helper()
	code, err := clickWith(client, srvURL, lp, lp.csrf)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, code)
}

// waitForPatch opens the page's SSE stream and reads it until a line contains want.
func waitForPatch(t *testing.T, client *http.Client, srvURL string, lp loadedPage, want string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srvURL+"/_sse?datastar="+lp.signals(lp.csrf), nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if strings.Contains(sc.Text(), want) {
			return
		}
	}
	t.Fatalf("stream ended before a patch containing %q arrived: %v", want, sc.Err())
}

func label(n int) string {
	return fmt.Sprintf(">Count: %d</button>", n)
}

func TestInitialRenderShowsZero(t *testing.T) {
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})
	lp := load(t, srv.Client(), srv.URL+"/")

	assert.Contains(t, lp.body, label(0))
	assert.Contains(t, lp.body, Whop.Title)
	assert.Contains(t, lp.body, Whop.Message)
	assert.Contains(t, lp.body, Whop.Footer)
	assert.Contains(t, lp.body, `href="/assets/page.css"`)
}

func TestClicksIncrementLabel(t *testing.T) {
	for _, n := range []int{0, 1, 3, 12, 30} {
		t.Run(fmt.Sprintf("%d clicks", n), func(t *testing.T) {
			srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})
			client := srv.Client()
			lp := load(t, client, srv.URL+"/")

			for i := 0; i < n; i++ {
				click(t, client, srv.URL, lp)
			}
			waitForPatch(t, client, srv.URL, lp, label(n))
		})
	}
}

func TestPagesOwnIndependentCounters(t *testing.T) {
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})
	client := srv.Client()
	first := load(t, client, srv.URL+"/")
	second := load(t, client, srv.URL+"/")
	require.NotEqual(t, first.ctxID, second.ctxID)

	for i := 0; i < 3; i++ {
		click(t, client, srv.URL, first)
	}
	click(t, client, srv.URL, second)

	waitForPatch(t, client, srv.URL, first, label(3))
	waitForPatch(t, client, srv.URL, second, label(1))
}

func TestConcurrentClicksEachIncrementOnce(t *testing.T) {
	const clicks = 15
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})
	client := srv.Client()
	lp := load(t, client, srv.URL+"/")

	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := clickWith(client, srv.URL, lp, lp.csrf)
			assert.NoError(t, err)
			assert.Equal(t, http.StatusOK, code)
		}()
	}
	wg.Wait()

	waitForPatch(t, client, srv.URL, lp, label(clicks))
}

func TestClickWithBadCSRFIsRejected(t *testing.T) {
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})
	client := srv.Client()
	lp := load(t, client, srv.URL+"/")

	code, err := clickWith(client, srv.URL, lp, "forged")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, code)

	waitForPatch(t, client, srv.URL, lp, label(0))
}

func TestBrandPreferenceKeptInSession(t *testing.T) {
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	browser := &http.Client{Jar: jar}

	lp := load(t, browser, srv.URL+"/?brand=creator-economy")
	assert.Contains(t, lp.body, CreatorEconomy.Title)
	assert.NotContains(t, lp.body, Whop.Title)

	lp = load(t, browser, srv.URL+"/")
	assert.Contains(t, lp.body, CreatorEconomy.Title, "preference should stick for the same browser")

	other := load(t, srv.Client(), srv.URL+"/")
	assert.Contains(t, other.body, Whop.Title, "a new browser gets the default brand")
}

func TestUnknownBrandFallsBackToDefault(t *testing.T) {
	srv := newTestServer(t, New(CreatorEconomy, zerolog.Nop()), live.Options{})
	lp := load(t, srv.Client(), srv.URL+"/?brand=acme")
	assert.Contains(t, lp.body, CreatorEconomy.Title)
}

func TestClickEventsPublished(t *testing.T) {
	ps := newMemPubSub()
	var mu sync.Mutex
	var events []ClickEvent
	_, err := ps.Subscribe(ClickSubject, func(data []byte) {
		var evt ClickEvent
		assert.NoError(t, json.Unmarshal(data, &evt))
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})
	require.NoError(t, err)

	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	p := New(Whop, zerolog.Nop())
	p.now = func() time.Time { return at }

	srv := newTestServer(t, p, live.Options{PubSub: ps})
	client := srv.Client()
	lp := load(t, client, srv.URL+"/")
	click(t, client, srv.URL, lp)
	click(t, client, srv.URL, lp)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	for i, evt := range events {
		assert.Equal(t, "whop", evt.Brand)
		assert.Equal(t, i+1, evt.Count)
		assert.True(t, at.Equal(evt.At), "event %d at %s", i, evt.At)
	}
}

func TestClicksPastPageRateLimitAllCount(t *testing.T) {
	const clicks = 30
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{
		ActionRateLimit: live.RateLimitConfig{Rate: 0.001, Burst: 2},
	})
	client := srv.Client()
	lp := load(t, client, srv.URL+"/")

	for i := 0; i < clicks; i++ {
		click(t, client, srv.URL, lp)
	}
	waitForPatch(t, client, srv.URL, lp, label(clicks))
}

func TestFailedPublishLeavesCounterAlone(t *testing.T) {
	ps := newMemPubSub()
	ps.publishErr = errors.New("nats: connection closed")

	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{PubSub: ps})
	client := srv.Client()
	lp := load(t, client, srv.URL+"/")

	for i := 0; i < 4; i++ {
		click(t, client, srv.URL, lp)
	}
	waitForPatch(t, client, srv.URL, lp, label(4))
	assert.Equal(t, int64(4), ps.attempts.Load())
}

func TestStylesheetServed(t *testing.T) {
	srv := newTestServer(t, New(Whop, zerolog.Nop()), live.Options{})
	client := srv.Client()

	resp, err := client.Get(srv.URL + "/assets/page.css")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "#282c34")

	resp, err = client.Get(srv.URL + "/assets/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// memPubSub delivers synchronously, in publish order.
type memPubSub struct {
	mu         sync.Mutex
	subs       map[string][]func([]byte)
	publishErr error
	attempts   atomic.Int64
}

func newMemPubSub() *memPubSub {
	return &memPubSub{subs: make(map[string][]func([]byte))}
}

func (m *memPubSub) Publish(subject string, data []byte) error {
	m.attempts.Add(1)
	if m.publishErr != nil {
		return m.publishErr
	}
	m.mu.Lock()
	handlers := slices.Clone(m.subs[subject])
	m.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (m *memPubSub) Subscribe(subject string, handler func([]byte)) (live.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[subject] = append(m.subs[subject], handler)
	return memSub{}, nil
}

func (m *memPubSub) Close() error { return nil }

type memSub struct{}

func (memSub) Unsubscribe() error { return nil }
