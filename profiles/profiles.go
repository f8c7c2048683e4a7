// Package profiles bundles the controller profiles shipped with irctest.
package profiles

import "embed"

// FS holds the bundled *.yaml profiles.
//
//go:embed *.yaml
var FS embed.FS
