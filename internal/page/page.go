// Package page is the Creator MVP starter page: a title, a welcome message,
// a footer and a button counting its own clicks.
package page

import (
	"errors"
	"time"

	"github.com/creatormvp/live"
	"github.com/creatormvp/live/h"
	"github.com/rs/zerolog"
)

const (
	brandQueryParam = "brand"
	brandSessionKey = "brand"
)

// Page renders the starter page for one default brand. A browser may switch
// brand with ?brand=<key>; the choice is kept in its session.
type Page struct {
	fallback Brand
	logger   zerolog.Logger
	now      func() time.Time
}

func New(fallback Brand, logger zerolog.Logger) *Page {
	return &Page{
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Mount registers the stylesheet and the page at "/".
func (p *Page) Mount(v *live.V) {
	Assets(v)
	v.Page("/", p.Init)
}

// Init is the live page init function. The brand is fixed here, once per page load.
func (p *Page) Init(c *live.Context) {
	brand := p.resolveBrand(c)
	counter := c.Component(p.counter(brand))
	c.View(func() h.H {
		return Render(brand, counter())
	})
}

func (p *Page) resolveBrand(c *live.Context) Brand {
	sess := c.Session()
	if key := c.QueryParam(brandQueryParam); key != "" {
		b, err := LookupBrand(key)
		if err == nil {
			sess.Set(brandSessionKey, b.Key)
			return b
		}
		p.logger.Debug().Str("brand", key).Msg("ignoring unknown brand query")
	}
	if b, err := LookupBrand(sess.GetString(brandSessionKey)); err == nil {
		return b
	}
	return p.fallback
}

func (p *Page) counter(brand Brand) func(*live.Context) {
	return func(c *live.Context) {
		count := NewCounter()

		// every click counts, so the counter is exempt from the page's rate limit
		increment := c.Action(func() {
			n := count.Increment()
			c.Sync()
			p.announce(c, brand, n)
		}, live.WithRateLimit(-1, 0))

		c.View(func() h.H {
			return CounterButton(count, increment.OnClick())
		})
	}
}

func (p *Page) announce(c *live.Context, brand Brand, n int) {
	err := live.Publish(c, ClickSubject, ClickEvent{Brand: brand.Key, Count: n, At: p.now().UTC()})
	if err != nil && !errors.Is(err, live.ErrNoPubSub) {
		p.logger.Debug().Err(err).Str("live-ctx", c.ID()).Msg("click event not published")
	}
}

// Render lays out the static page copy around the counter view.
func Render(brand Brand, counter h.H) h.H {
	return h.Main(h.Class("creator-page"),
		h.H1(h.Text(brand.Title)),
		h.P(h.Class("welcome"), h.Text(brand.Message)),
		counter,
		h.Footer(h.Small(h.Text(brand.Footer))),
	)
}

// CounterButton renders the button labelled with the current count.
func CounterButton(count *Counter, onClick h.H) h.H {
	return h.Button(
		h.Type("button"),
		h.Class("counter"),
		h.Attr("aria-live", "polite"),
		onClick,
		h.Text(count.Label()),
	)
}
