package h_test

import (
	"strings"
	"testing"

	"github.com/creatormvp/live/h"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, n h.H) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, n.Render(&b))
	return b.String()
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		node h.H
		want string
	}{
		{"text is escaped", h.P(h.Text("<b>&</b>")), "<p>&lt;b&gt;&amp;&lt;/b&gt;</p>"},
		{"textf", h.Button(h.Textf("Count: %d", 7)), "<button>Count: 7</button>"},
		{"raw", h.Div(h.Raw("<hr>")), "<div><hr></div>"},
		{"attributes before children", h.Div(h.Text("x"), h.ID("a"), h.Class("b")), `<div id="a" class="b">x</div>`},
		{"data attribute", h.Button(h.Data("on:click", "@get('/_action/1')")), `<button data-on:click="@get(&#39;/_action/1&#39;)"></button>`},
		{"boolean attribute", h.Button(h.Attr("disabled")), "<button disabled></button>"},
		{"if true", h.Div(h.If(true, h.Small(h.Text("y")))), "<div><small>y</small></div>"},
		{"if false drops node", h.Div(h.If(false, h.Small(h.Text("y"))), h.Text("z")), "<div>z</div>"},
		{"nil children skipped", h.Footer(nil, h.Small(), nil), "<footer><small></small></footer>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(t, tt.node))
		})
	}
}

func TestHTML5(t *testing.T) {
	out := render(t, h.HTML5(h.HTML5Props{
		Title:    "Whop Creator MVP",
		Language: "en",
		Head:     []h.H{nil, h.Link(h.Rel("stylesheet"), h.Href("/assets/page.css"))},
		Body:     []h.H{h.Main(h.H1(h.Text("Hi")))},
	}))

	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, `<html lang="en">`)
	assert.Contains(t, out, "<title>Whop Creator MVP</title>")
	assert.Contains(t, out, `<link rel="stylesheet" href="/assets/page.css">`)
	assert.Contains(t, out, "<body><main><h1>Hi</h1></main></body>")
	assert.NotContains(t, out, `name="description"`)
}
