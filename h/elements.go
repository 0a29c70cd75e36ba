package h

import gh "maragu.dev/gomponents/html"

func Div(children ...H) H    { return gh.Div(retype(children)...) }
func Main(children ...H) H   { return gh.Main(retype(children)...) }
func Footer(children ...H) H { return gh.Footer(retype(children)...) }
func H1(children ...H) H     { return gh.H1(retype(children)...) }
func P(children ...H) H      { return gh.P(retype(children)...) }
func Small(children ...H) H  { return gh.Small(retype(children)...) }
func Button(children ...H) H { return gh.Button(retype(children)...) }
func Script(children ...H) H { return gh.Script(retype(children)...) }
func Meta(children ...H) H   { return gh.Meta(retype(children)...) }
func Link(children ...H) H   { return gh.Link(retype(children)...) }
