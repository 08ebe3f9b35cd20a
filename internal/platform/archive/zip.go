// Package archive packs run input files into a zip archive.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
)

type File struct {
	Name    string
	Content []byte
}

// Zip packs files into a single archive. Names are cleaned to relative slash
// paths; absolute paths and parent traversal are rejected.
func Zip(files []File) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		name, err := cleanName(f.Name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("archive: duplicate file %q", name)
		}
		seen[name] = struct{}{}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("archive: create %q: %w", name, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, fmt.Errorf("archive: write %q: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close: %w", err)
	}
	return buf.Bytes(), nil
}

func cleanName(raw string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if name == "" {
		return "", fmt.Errorf("archive: empty file name")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("archive: absolute path %q", raw)
	}
	name = path.Clean(name)
	if name == ".." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("archive: path escapes archive root %q", raw)
	}
	return name, nil
}
