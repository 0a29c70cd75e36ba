package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creatormvp/live/h"
	"golang.org/x/time/rate"
)

// patchQueueSize bounds the element patches waiting for a page's SSE stream.
const patchQueueSize = 8

// ErrNoPubSub is returned by Publish and Subscribe when the app has no PubSub backend.
var ErrNoPubSub = errors.New("pubsub not configured")

// Context is the state of one page load.
//
// It owns the page state through closures, registers actions and components,
// and defines the UI through View. Actions of one page context never run
// concurrently: the context executes them one at a time, so state captured by
// the view needs no extra locking.
type Context struct {
	id              string
	app             *V
	view            func() h.H
	parentPageCtx   *Context
	patchChan       chan string
	actionRegistry  map[string]actionEntry
	actionLimiter   *rate.Limiter
	csrfToken       string
	subscriptions   []Subscription
	mu              sync.RWMutex
	actionMu        sync.Mutex
	reqCtx          context.Context
	query           url.Values
	createdAt       time.Time
	sseConnected    atomic.Bool
	ctxDisposedChan chan struct{}
	disposeOnce     sync.Once
}

// ID returns the context id. Component ids are prefixed with their page id.
func (c *Context) ID() string {
	return c.id
}

// View defines the UI rendered by this context.
// The function is called on every render and should only read state.
func (c *Context) View(f func() h.H) {
	if f == nil {
		panic("nil viewfn")
	}
	c.view = func() h.H { return h.Div(h.ID(c.id), f()) }
}

// Component registers a subcontext with its own state and actions and
// returns its view, to be placed in the parent's view.
//
// Example:
//
//	v.Page("/", func(c *live.Context) {
//		counter := c.Component(counterFn)
//
//		c.View(func() h.H {
//			return h.Div(h.H1(h.Text("Counter")), counter())
//		})
//	})
func (c *Context) Component(initCtx func(c *Context)) func() h.H {
	id := c.id + "/_component/" + genRandID()
	compCtx := newContext(id, c.app)
	compCtx.parentPageCtx = c.page()
	initCtx(compCtx)
	return compCtx.view
}

func (c *Context) isComponent() bool {
	return c.parentPageCtx != nil
}

// page returns the page context that owns the SSE stream, actions and locks.
func (c *Context) page() *Context {
	if c.isComponent() {
		return c.parentPageCtx
	}
	return c
}

// Action registers an event handler and returns a trigger for it that can be
// placed in the view like any other attribute.
//
// Example:
//
//	n := 0
//	increment := c.Action(func() {
//		n++
//		c.Sync()
//	})
//
//	c.View(func() h.H {
//		return h.Button(h.Textf("Count: %d", n), increment.OnClick())
//	})
func (c *Context) Action(f func(), opts ...ActionOption) *actionTrigger {
	id := genRandID()
	if f == nil {
		c.app.logErr(c, "failed to bind action '%s' to context: nil func", id)
		return nil
	}
	entry := actionEntry{fn: f}
	for _, opt := range opts {
		opt(&entry)
	}

	p := c.page()
	p.mu.Lock()
	p.actionRegistry[id] = entry
	p.mu.Unlock()
	return &actionTrigger{id}
}

func (c *Context) getAction(id string) (actionEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.actionRegistry[id]; ok {
		return e, nil
	}
	return actionEntry{}, fmt.Errorf("action '%s' not found", id)
}

// exclusive runs fn while holding the page's action lock.
func (c *Context) exclusive(fn func()) {
	p := c.page()
	p.actionMu.Lock()
	defer p.actionMu.Unlock()
	fn()
}

// sendPatch queues an element patch on the page's SSE stream without
// blocking. When the queue is full, everything pending is replaced by one
// render of the whole page, which carries the latest state of every
// component.
func (c *Context) sendPatch(elems string) {
	p := c.page()
	select {
	case p.patchChan <- elems:
		return
	default:
	}
	for drained := false; !drained; {
		select {
		case <-p.patchChan:
		default:
			drained = true
		}
	}
	if p.view == nil {
		return
	}
	var b bytes.Buffer
	if err := p.view().Render(&b); err != nil {
		c.app.logErr(c, "sync view failed: %v", err)
		return
	}
	select {
	case p.patchChan <- b.String():
	default:
	}
}

// Sync renders the view and pushes it to the browser over the SSE stream.
// Call it at the end of an action.
func (c *Context) Sync() {
	if c.view == nil {
		return
	}
	var b bytes.Buffer
	if err := c.view().Render(&b); err != nil {
		c.app.logErr(c, "sync view failed: %v", err)
		return
	}
	c.sendPatch(b.String())
}

// SyncElements pushes the given elements to the browser, where they are
// merged with the DOM by id. Every top level element needs an id that is
// already present in the view.
func (c *Context) SyncElements(elem ...h.H) {
	var b bytes.Buffer
	for idx, el := range elem {
		if el == nil {
			c.app.logWarn(c, "sync elements failed: element at idx=%d is nil", idx)
			continue
		}
		if err := el.Render(&b); err != nil {
			c.app.logWarn(c, "sync elements failed: element at idx=%d has invalid html", idx)
			continue
		}
	}
	if b.Len() == 0 {
		return
	}
	c.sendPatch(b.String())
}

func (c *Context) setReqCtx(ctx context.Context) {
	c.mu.Lock()
	c.reqCtx = ctx
	c.mu.Unlock()
}

func (c *Context) requestContext() context.Context {
	p := c.page()
	if p != c {
		return p.requestContext()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reqCtx
}

func (c *Context) injectQuery(q url.Values) {
	c.mu.Lock()
	c.query = q
	c.mu.Unlock()
}

// QueryParam returns the value of name in the query string of the page
// request, or an empty string if it is absent.
func (c *Context) QueryParam(name string) string {
	p := c.page()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.query.Get(name)
}

// Session returns the browser session of the request currently being served:
// the page load during init, the action request inside an action.
// Returns a no-op session when no session manager or request is present.
func (c *Context) Session() *Session {
	return &Session{
		ctx:     c.requestContext(),
		manager: c.app.sessionManager,
	}
}

// Publish sends data on subject through the app's PubSub backend.
func (c *Context) Publish(subject string, data []byte) error {
	if c.id == "" {
		return nil
	}
	if c.app.pubsub == nil {
		return ErrNoPubSub
	}
	return c.app.pubsub.Publish(subject, data)
}

// Subscribe registers handler for subject. The subscription is released when
// the page context is disposed.
func (c *Context) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	if c.id == "" {
		return nil, nil
	}
	if c.app.pubsub == nil {
		return nil, ErrNoPubSub
	}
	sub, err := c.app.pubsub.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p := c.page()
	p.mu.Lock()
	p.subscriptions = append(p.subscriptions, sub)
	p.mu.Unlock()
	return sub, nil
}

func (c *Context) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.app.logWarn(c, "unsubscribe failed: %v", err)
		}
	}
}

// dispose releases subscriptions and ends the SSE loop. Safe to call twice.
func (c *Context) dispose() {
	c.disposeOnce.Do(func() {
		c.unsubscribeAll()
		close(c.ctxDisposedChan)
	})
}

func newContext(id string, v *V) *Context {
	if v == nil {
		panic("create context failed: app pointer is nil")
	}

	return &Context{
		id:              id,
		app:             v,
		actionRegistry:  make(map[string]actionEntry),
		actionLimiter:   v.actionRateLimit.limiter(),
		csrfToken:       genCSRFToken(),
		patchChan:       make(chan string, patchQueueSize),
		createdAt:       time.Now(),
		ctxDisposedChan: make(chan struct{}),
	}
}
