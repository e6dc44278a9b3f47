// Package testutil holds test helpers that enforce package layering: pkg/
// libraries stay free of internal/ code and each storage backend only reaches
// the packages it is allowed to.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ModulePath is the import path prefix of this module.
const ModulePath = "tubetrack"

// AssertNoDirectImports parses the non-test .go files in dir and fails if any
// import satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	imports, err := directImports(dir)
	if err != nil {
		t.Fatalf("read imports of %s: %v", dir, err)
	}
	var viols []string
	for _, imp := range imports {
		if forbidden(imp.path) {
			viols = append(viols, imp.String())
		}
	}
	failIfViolations(t, reason, viols)
}

// AssertModuleImportsWithin fails if a non-test file in dir imports a package
// of this module other than those listed in allowed. Third-party and standard
// library imports are not checked.
func AssertModuleImportsWithin(t testing.TB, dir string, allowed ...string) {
	t.Helper()
	ok := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		ok[a] = struct{}{}
	}
	AssertNoDirectImports(t, dir, func(p string) bool {
		if !IsModuleImport(p) {
			return false
		}
		_, found := ok[p]
		return !found
	}, "only "+strings.Join(allowed, ", ")+" may be imported")
}

// IsModuleImport reports whether path belongs to this module.
func IsModuleImport(path string) bool {
	return path == ModulePath || strings.HasPrefix(path, ModulePath+"/")
}

// InternalImportForbidden matches any import path with an internal/ element.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// PrefixForbidden returns a predicate matching imports under any of prefixes.
func PrefixForbidden(prefixes ...string) func(string) bool {
	return func(path string) bool {
		for _, p := range prefixes {
			if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
				return true
			}
		}
		return false
	}
}

type fileImport struct {
	path string
	file string
}

func (i fileImport) String() string { return i.path + " (in " + i.file + ")" }

func directImports(dir string) ([]fileImport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var out []fileImport
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			out = append(out, fileImport{path: strings.Trim(imp.Path.Value, `"`), file: name})
		}
	}
	return out, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) == 0 {
		return
	}
	sort.Strings(viols)
	t.Fatalf("forbidden imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
}
