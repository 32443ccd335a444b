// SPDX-License-Identifier: MPL-2.0

package web

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublic(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	for _, name := range []string{"index.html", "dashboard.html", "terms.html", "privacy.html", "dashboard.js", "style.css"} {
		b, err := fs.ReadFile(Public(), name)
		require.NoError(err, name)
		assert.NotEmpty(b, name)
	}
}
