// SPDX-License-Identifier: MPL-2.0

// Package web holds the site's static pages.
package web

import (
	"embed"
	"io/fs"
)

//go:embed public
var public embed.FS

// Public returns the static site rooted at its top directory.
func Public() fs.FS {
	sub, err := fs.Sub(public, "public")
	if err != nil {
		// the directory is embedded, so this can't happen
		panic(err)
	}
	return sub
}
