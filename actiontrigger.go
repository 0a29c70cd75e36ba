package live

import (
	"fmt"

	"github.com/creatormvp/live/h"
)

// actionTrigger is a handle to a registered action.
type actionTrigger struct {
	id string
}

// ID returns the action id used in the action route.
func (a *actionTrigger) ID() string {
	return a.id
}

func actionURL(id string) string {
	return fmt.Sprintf("@get('/_action/%s')", id)
}

// OnClick returns a data attribute that fires the action when the element is clicked.
func (a *actionTrigger) OnClick() h.H {
	return h.Data("on:click", actionURL(a.id))
}
