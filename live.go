// Package live renders pages on the server and keeps them live in the
// browser. A page registers actions and a view; each page load gets its own
// Context, the browser holds an SSE stream open, and every action re-renders
// the view and pushes it back as a Datastar patch.
package live

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/creatormvp/live/h"
	"github.com/rs/zerolog"
	"github.com/starfederation/datastar-go/datastar"
)

const (
	ctxSignal  = "live-ctx"
	csrfSignal = "live-csrf"
)

// V is the root application.
// It manages page routing, user sessions, and SSE connections for live updates.
type V struct {
	cfg                  Options
	mux                  *http.ServeMux
	server               *http.Server
	logger               zerolog.Logger
	contexts             *registry
	documentHeadIncludes []h.H
	documentFootIncludes []h.H
	sessionManager       *scs.SessionManager
	pubsub               PubSub
	actionRateLimit      RateLimitConfig
	middleware           []func(http.Handler) http.Handler
	datastarPath         string
	datastarURL          string
	datastarContent      []byte
	datastarOnce         sync.Once
	reaperStop           chan struct{}
	shutdownOnce         sync.Once
}

func (v *V) logEvent(evt *zerolog.Event, c *Context) *zerolog.Event {
	if c != nil && c.id != "" {
		evt = evt.Str(ctxSignal, c.id)
	}
	return evt
}

func (v *V) logFatal(format string, a ...any) {
	v.logEvent(v.logger.WithLevel(zerolog.FatalLevel), nil).Msgf(format, a...)
}

func (v *V) logErr(c *Context, format string, a ...any) {
	v.logEvent(v.logger.Error(), c).Msgf(format, a...)
}

func (v *V) logWarn(c *Context, format string, a ...any) {
	v.logEvent(v.logger.Warn(), c).Msgf(format, a...)
}

func (v *V) logInfo(c *Context, format string, a ...any) {
	v.logEvent(v.logger.Info(), c).Msgf(format, a...)
}

func (v *V) logDebug(c *Context, format string, a ...any) {
	v.logEvent(v.logger.Debug(), c).Msgf(format, a...)
}

// NewLogger builds the logger the app uses when Options.Logger is nil:
// console output in dev mode, JSON lines on stderr otherwise.
func NewLogger(devMode bool, level zerolog.Level) zerolog.Logger {
	if devMode {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger().Level(level)
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// Logger returns the application logger so callers can log with the same sink.
func (v *V) Logger() *zerolog.Logger {
	return &v.logger
}

// Config overrides the default configuration with the given options.
// Zero values leave the current setting untouched.
func (v *V) Config(cfg Options) {
	if cfg.Logger != nil {
		v.logger = *cfg.Logger
	} else if cfg.LogLevel != nil || cfg.DevMode != v.cfg.DevMode {
		level := zerolog.InfoLevel
		if cfg.LogLevel != nil {
			level = *cfg.LogLevel
		}
		v.logger = NewLogger(cfg.DevMode, level)
	}
	if cfg.DocumentTitle != "" {
		v.cfg.DocumentTitle = cfg.DocumentTitle
	}
	if cfg.DevMode != v.cfg.DevMode {
		v.cfg.DevMode = cfg.DevMode
	}
	if cfg.ServerAddress != "" {
		v.cfg.ServerAddress = cfg.ServerAddress
	}
	if cfg.SessionManager != nil {
		v.sessionManager = cfg.SessionManager
	}
	if cfg.DatastarContent != nil {
		v.datastarContent = cfg.DatastarContent
	}
	if cfg.DatastarPath != "" {
		v.datastarPath = cfg.DatastarPath
	}
	if cfg.DatastarURL != "" {
		v.datastarURL = cfg.DatastarURL
	}
	if cfg.PubSub != nil {
		v.pubsub = cfg.PubSub
	}
	if cfg.ContextTTL != 0 {
		v.cfg.ContextTTL = cfg.ContextTTL
	}
	if cfg.ActionRateLimit.Rate != 0 || cfg.ActionRateLimit.Burst != 0 {
		v.actionRateLimit = cfg.ActionRateLimit
	}
	v.middleware = append(v.middleware, cfg.Middleware...)
	for _, plugin := range cfg.Plugins {
		if plugin != nil {
			plugin(v)
		}
	}
}

// AppendToHead appends the given nodes to the head of every page document.
// Useful for stylesheets and scripts.
func (v *V) AppendToHead(elements ...h.H) {
	for _, el := range elements {
		if el != nil {
			v.documentHeadIncludes = append(v.documentHeadIncludes, el)
		}
	}
}

// AppendToFoot appends the given nodes to the end of every page body.
func (v *V) AppendToFoot(elements ...h.H) {
	for _, el := range elements {
		if el != nil {
			v.documentFootIncludes = append(v.documentFootIncludes, el)
		}
	}
}

// Page registers a route and its page init function. The init function runs
// once per page load and receives a fresh *Context that owns the page state.
//
// Page runs initContextFn once at registration with a detached context so a
// page that panics, or never calls View, fails at startup instead of on the
// first request.
//
// Example:
//
//	v.Page("/", func(c *live.Context) {
//		c.View(func() h.H {
//			return h.H1(h.Text("Hello"))
//		})
//	})
func (v *V) Page(route string, initContextFn func(c *Context)) {
	v.ensureDatastarHandler()
	func() {
		defer func() {
			if err := recover(); err != nil {
				v.logFatal("failed to register page with init func that panics: %v", err)
				panic(err)
			}
		}()
		c := newContext("", v)
		initContextFn(c)
		c.view()
		c.dispose()
	}()

	pattern := "GET " + route
	if route == "/" {
		pattern = "GET /{$}"
	}
	v.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		v.logDebug(nil, "GET %s", r.URL.String())
		id := fmt.Sprintf("%s_/%s", route, genRandID())
		c := newContext(id, v)
		c.setReqCtx(r.Context())
		c.injectQuery(r.URL.Query())
		initContextFn(c)
		v.registerCtx(c)

		headElements := []h.H{h.Script(h.Type("module"), h.Src(v.datastarSrc()))}
		headElements = append(headElements, v.documentHeadIncludes...)
		headElements = append(headElements,
			h.Meta(h.Data("signals", fmt.Sprintf("{'%s':'%s','%s':'%s'}", ctxSignal, id, csrfSignal, c.csrfToken))),
			h.Meta(h.Data("init", "@get('/_sse')")),
			h.Meta(h.Data("init", fmt.Sprintf(`window.addEventListener('beforeunload', (evt) => {
			navigator.sendBeacon('/_session/close', '%s');});`, c.id))),
		)

		bodyElements := []h.H{c.view()}
		bodyElements = append(bodyElements, v.documentFootIncludes...)
		view := h.HTML5(h.HTML5Props{
			Title:    v.cfg.DocumentTitle,
			Language: "en",
			Head:     headElements,
			Body:     bodyElements,
		})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := view.Render(w); err != nil {
			v.logErr(c, "render page failed: %v", err)
		}
	})
}

func (v *V) registerCtx(c *Context) {
	n := v.contexts.put(c)
	v.logDebug(c, "context registered (%d live)", n)
}

// cleanupCtx disposes c and forgets it.
func (v *V) cleanupCtx(c *Context) {
	c.dispose()
	n := v.contexts.remove(c.id)
	v.logDebug(c, "context removed (%d live)", n)
}

func (v *V) getCtx(id string) (*Context, error) {
	return v.contexts.get(id)
}

// ContextCount reports how many live page contexts are registered.
func (v *V) ContextCount() int {
	return v.contexts.len()
}

func (v *V) startReaper() {
	ttl := v.cfg.ContextTTL
	if ttl < 0 {
		return
	}
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	interval := ttl / 3
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	v.reaperStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-v.reaperStop:
				return
			case <-ticker.C:
				v.reapOrphanedContexts(ttl)
			}
		}
	}()
}

func (v *V) reapOrphanedContexts(ttl time.Duration) {
	for _, c := range v.contexts.orphans(time.Now(), ttl) {
		v.logInfo(c, "reaping orphaned context (no SSE connection after %s)", ttl)
		v.cleanupCtx(c)
	}
}

// Handler returns the application handler: the route mux wrapped with the
// session middleware and any configured middleware.
func (v *V) Handler() http.Handler {
	handler := http.Handler(v.mux)
	if v.sessionManager != nil {
		handler = v.sessionManager.LoadAndSave(handler)
	}
	for _, mw := range v.middleware {
		handler = mw(handler)
	}
	return handler
}

// Start serves the application and blocks until ctx is cancelled, then shuts
// down gracefully. It returns the listener error if serving fails.
func (v *V) Start(ctx context.Context) error {
	v.server = &http.Server{
		Addr:              v.cfg.ServerAddress,
		Handler:           v.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	v.startReaper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- v.server.ListenAndServe()
	}()

	v.logInfo(nil, "live started at [%s]", v.cfg.ServerAddress)

	select {
	case <-ctx.Done():
		v.logInfo(nil, "context done, shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			v.shutdown()
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	v.shutdown()
	return nil
}

// Shutdown gracefully shuts down the server and all contexts.
// Safe for programmatic or test use, and safe to call more than once.
func (v *V) Shutdown() {
	v.shutdown()
}

func (v *V) shutdown() {
	v.shutdownOnce.Do(func() {
		if v.reaperStop != nil {
			close(v.reaperStop)
		}
		v.logInfo(nil, "draining all contexts")
		v.drainAllContexts()

		if v.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := v.server.Shutdown(ctx); err != nil {
				v.logErr(nil, "http server shutdown error: %v", err)
			}
		}

		if v.pubsub != nil {
			if err := v.pubsub.Close(); err != nil {
				v.logErr(nil, "pubsub close error: %v", err)
			}
		}

		v.logInfo(nil, "shutdown complete")
	})
}

func (v *V) drainAllContexts() {
	contexts := v.contexts.takeAll()
	for _, c := range contexts {
		c.dispose()
	}
	v.logInfo(nil, "drained %d context(s)", len(contexts))
}

// HTTPServeMux returns the underlying request multiplexer so plugins can
// mount extra handlers.
//
// IMPORTANT. The mux may only be modified during initialization, before
// Start. Concurrent handler registration is not safe.
func (v *V) HTTPServeMux() *http.ServeMux {
	return v.mux
}

func (v *V) datastarSrc() string {
	if v.datastarContent != nil {
		return v.datastarPath
	}
	return v.datastarURL
}

func (v *V) ensureDatastarHandler() {
	if v.datastarContent == nil {
		return
	}
	v.datastarOnce.Do(func() {
		v.mux.HandleFunc("GET "+v.datastarPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write(v.datastarContent)
		})
	})
}

// New creates a new *V application with default configuration.
func New() *V {
	v := &V{
		mux:            http.NewServeMux(),
		logger:         NewLogger(true, zerolog.InfoLevel),
		contexts:       newRegistry(),
		sessionManager: scs.New(),
		datastarPath:   "/_datastar.js",
		datastarURL:    defaultDatastarURL,
		cfg: Options{
			ServerAddress: ":3000",
			DocumentTitle: "Live",
		},
	}

	v.mux.HandleFunc("GET /_sse", v.handleSSE)
	v.mux.HandleFunc("GET /_action/{id}", v.handleAction)
	v.mux.HandleFunc("POST /_session/close", v.handleSessionClose)
	return v
}

func (v *V) handleSSE(w http.ResponseWriter, r *http.Request) {
	var sigs map[string]any
	_ = datastar.ReadSignals(r, &sigs)
	cID, _ := sigs[ctxSignal].(string)

	c, err := v.getCtx(cID)
	if err != nil {
		v.logErr(nil, "sse stream failed to start: %v", err)
		return
	}

	sse := datastar.NewSSE(w, r, datastar.WithCompression(datastar.WithBrotli(datastar.WithBrotliLevel(5))))

	// last-event-id tells a reconnect apart from a first connect
	sse.Send(datastar.EventTypePatchElements, []string{}, datastar.WithSSEEventId("live"))

	c.sseConnected.Store(true)
	v.logDebug(c, "SSE connection established")

	go c.exclusive(c.Sync)

	for {
		select {
		case <-sse.Context().Done():
			v.logDebug(c, "SSE connection ended")
			v.cleanupCtx(c)
			return
		case <-c.ctxDisposedChan:
			v.logDebug(c, "context disposed, closing SSE")
			return
		case elems := <-c.patchChan:
			if err := sse.PatchElements(elems); err != nil {
				// a closed connection is not worth an error line
				if sse.Context().Err() == nil {
					v.logErr(c, "PatchElements failed: %v", err)
				}
			}
		}
	}
}

func (v *V) handleAction(w http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("id")
	var sigs map[string]any
	_ = datastar.ReadSignals(r, &sigs)
	cID, _ := sigs[ctxSignal].(string)
	c, err := v.getCtx(cID)
	if err != nil {
		v.logErr(nil, "action '%s' failed: %v", actionID, err)
		return
	}
	csrfToken, _ := sigs[csrfSignal].(string)
	if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(c.csrfToken)) != 1 {
		v.logWarn(c, "action '%s' rejected: invalid CSRF token", actionID)
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	entry, err := c.getAction(actionID)
	if err != nil {
		v.logDebug(c, "action '%s' failed: %v", actionID, err)
		return
	}
	if l := entry.limiterFor(c); l != nil && !l.Allow() {
		v.logWarn(c, "action '%s' rate limited", actionID)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	c.exclusive(func() {
		defer func() {
			if rec := recover(); rec != nil {
				v.logErr(c, "action '%s' failed: %v", actionID, rec)
			}
		}()
		c.setReqCtx(r.Context())
		entry.fn()
	})
}

func (v *V) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		v.logErr(nil, "error reading body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cID := strings.TrimSpace(string(body))
	c, err := v.getCtx(cID)
	if err != nil {
		v.logDebug(nil, "failed to handle session close: %v", err)
		return
	}
	v.logDebug(c, "session close event triggered")
	v.cleanupCtx(c)
}

func genRandID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func genCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
