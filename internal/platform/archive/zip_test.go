package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestZipRoundTrip(t *testing.T) {
	raw, err := Zip([]File{
		{Name: "main.sh", Content: []byte("echo hi")},
		{Name: "./config/app.json", Content: []byte(`{"a":1}`)},
	})
	if err != nil {
		t.Fatalf("Zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(b)
	}
	if got["main.sh"] != "echo hi" || got["config/app.json"] != `{"a":1}` {
		t.Fatalf("contents: got=%v", got)
	}
}

func TestZipRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../etc/passwd", "/abs", "", "a/../../b"} {
		if _, err := Zip([]File{{Name: name}}); err == nil {
			t.Fatalf("Zip(%q): expected error", name)
		}
	}
}

func TestZipRejectsDuplicates(t *testing.T) {
	if _, err := Zip([]File{{Name: "a"}, {Name: "./a"}}); err == nil {
		t.Fatalf("Zip: expected duplicate error")
	}
}

func TestZipEmpty(t *testing.T) {
	raw, err := Zip(nil)
	if err != nil {
		t.Fatalf("Zip(nil): %v", err)
	}
	if _, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw))); err != nil {
		t.Fatalf("empty archive unreadable: %v", err)
	}
}
