package live

import (
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
)

// defaultDatastarURL is used for the page script tag when no local bundle is configured.
const defaultDatastarURL = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0/bundles/datastar.js"

// Plugin mutates the *live.V app at configuration time. Use it to mount
// stylesheets, scripts or extra handlers.
type Plugin func(v *V)

// Options defines configuration options for the live application.
type Options struct {
	// DevMode switches logging to a human readable console writer.
	DevMode bool

	// The http server address. e.g. ':3000'
	ServerAddress string

	// LogLevel sets the minimum log level of the built-in logger. nil means Info.
	LogLevel *zerolog.Level

	// Logger overrides the default logger entirely. When set, LogLevel and
	// DevMode have no effect on logging.
	Logger *zerolog.Logger

	// The title of the HTML document.
	DocumentTitle string

	// Plugins to extend the application.
	Plugins []Plugin

	// SessionManager enables cookie-based sessions. The handler returned by
	// Handler is wrapped with its LoadAndSave middleware.
	SessionManager *scs.SessionManager

	// DatastarContent is a local Datastar bundle. When set it is served from
	// DatastarPath; otherwise pages load DatastarURL.
	DatastarContent []byte

	// DatastarPath is the URL path of the local bundle. Defaults to "/_datastar.js".
	DatastarPath string

	// DatastarURL is the script source used when no local bundle is set.
	DatastarURL string

	// PubSub enables publish/subscribe messaging. Use livenats.New() for an
	// embedded NATS backend, or supply any PubSub implementation.
	PubSub PubSub

	// ContextTTL is how long a page context may live without an SSE stream
	// before the reaper disposes it. Zero means 30s, negative disables reaping.
	ContextTTL time.Duration

	// ActionRateLimit is the default token bucket for every page context.
	ActionRateLimit RateLimitConfig

	// Middleware wraps the final HTTP handler, outermost last.
	Middleware []func(http.Handler) http.Handler
}
