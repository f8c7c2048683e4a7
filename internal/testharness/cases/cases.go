// Package cases is the catalog of conformance cases run by irctest.
package cases

import (
	"github.com/irctest/irctest-go/internal/testharness/controller"
	"github.com/irctest/irctest-go/internal/testharness/engine"
)

// All returns every case, server cases first.
func All() []*engine.Case {
	var all []*engine.Case
	all = append(all, Registration()...)
	all = append(all, ServerCapabilities()...)
	all = append(all, LabeledResponse()...)
	all = append(all, ServerSASL()...)
	all = append(all, ClientCapabilities()...)
	all = append(all, ClientSASL()...)
	return all
}

// Find returns the case with the given ID.
func Find(id string) (*engine.Case, bool) {
	for _, c := range All() {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func serverOptions() controller.Options {
	return controller.Options{}
}
