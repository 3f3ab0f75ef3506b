package main

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "live-relay"

func importGroup(path string) int {
	switch {
	case path == modulePath || strings.HasPrefix(path, modulePath+"/"):
		return 1
	case strings.Contains(strings.SplitN(path, "/", 2)[0], "."):
		return 2
	default:
		return 0
	}
}

// Imports are grouped standard library, then this module, then third party.
func TestImportGroupsOrdered(t *testing.T) {
	root := filepath.Join("..", "..")
	fset := token.NewFileSet()
	checked := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		last := 0
		for _, spec := range f.Imports {
			p, err := strconv.Unquote(spec.Path.Value)
			require.NoError(t, err)
			g := importGroup(p)
			assert.GreaterOrEqual(t, g, last, "%s: %q is out of group order", path, p)
			if g > last {
				last = g
			}
		}
		checked++
		return nil
	})
	require.NoError(t, err)
	assert.Positive(t, checked)
}
