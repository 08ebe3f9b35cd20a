package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
)

// allowedInternal lists, per layer, the internal packages the layer may
// import. Layers missing from the map are unrestricted.
var allowedInternal = map[string][]string{
	"platform":      {"platform/"},
	"domain":        {"domain", "platform/"},
	"data":          {"data/", "domain", "platform/"},
	"observability": {"platform/"},
	"modules":       {"modules/", "data/", "domain", "platform/", "jobs/queue"},
	"jobs":          {"jobs/", "modules/", "data/", "domain", "platform/", "observability"},
	"services":      {"services", "modules/", "data/", "domain", "platform/"},
	"http":          {"http", "services", "data/repos", "domain", "platform/"},
}

func TestImportBoundaries(t *testing.T) {
	root, modulePath := moduleRoot(t)
	internalDir := filepath.Join(root, "internal")
	fset := token.NewFileSet()

	var violations []string
	err := filepath.WalkDir(internalDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Test helper packages wire the whole stack on purpose.
			if strings.HasSuffix(d.Name(), "test") || d.Name() == "testutil" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(internalDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		layer := strings.SplitN(rel, "/", 2)[0]
		allowed, restricted := allowedInternal[layer]
		if !restricted {
			return nil
		}

		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			imp, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				continue
			}
			target, ok := strings.CutPrefix(imp, modulePath+"/internal/")
			if !ok {
				continue
			}
			if !permitted(target, allowed) {
				violations = append(violations, fmt.Sprintf("internal/%s imports %q (%s may import %v)", rel, imp, layer, allowed))
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk internal/: %v", err)
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("import boundary violations:\n- %s", strings.Join(violations, "\n- "))
	}
}

func TestOnlyCommandsImportApp(t *testing.T) {
	root, modulePath := moduleRoot(t)
	fset := token.NewFileSet()
	appPkg := modulePath + "/internal/app"

	var violations []string
	err := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") {
			return err
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range f.Imports {
			if imp, _ := strconv.Unquote(spec.Path.Value); imp == appPkg {
				violations = append(violations, path)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk internal/: %v", err)
	}
	if len(violations) > 0 {
		t.Fatalf("internal/app imported outside cmd/:\n- %s", strings.Join(violations, "\n- "))
	}
}

func permitted(target string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasSuffix(a, "/") {
			if strings.HasPrefix(target, a) {
				return true
			}
			continue
		}
		if target == a || strings.HasPrefix(target, a+"/") {
			return true
		}
	}
	return false
}

func moduleRoot(t *testing.T) (string, string) {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found")
		}
		dir = parent
	}
	modulePath, err := readModulePath(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}
	return dir, modulePath
}

func readModulePath(goModPath string) (string, error) {
	f, err := os.Open(goModPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if mp, ok := strings.CutPrefix(line, "module "); ok {
			if mp = strings.TrimSpace(mp); mp != "" {
				return mp, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("module path not found in %s", goModPath)
}
