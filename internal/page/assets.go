package page

import (
	"embed"
	"io/fs"

	"github.com/creatormvp/live"
	"github.com/creatormvp/live/h"
)

//go:embed assets/*.css
var assetsFS embed.FS

const assetsPrefix = "/assets/"

// Assets is a live.Plugin serving the page stylesheet and linking it from every page.
func Assets(v *live.V) {
	sub, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		panic(err)
	}
	v.StaticFS(assetsPrefix, sub)
	v.AppendToHead(h.Link(h.Rel("stylesheet"), h.Href(assetsPrefix+"page.css")))
}
