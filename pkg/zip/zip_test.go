package zip

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	archive := ArchiveAssets([]Asset{
		{Filename: "a.png", MIME: "image/png", Data: []byte("png bytes")},
		{Filename: "b.jpg", MIME: "image/jpeg", Data: []byte("jpg bytes")},
		{Filename: "skipped.png", MIME: "image/png"}, // no data
	})

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["a.png"] || !names["b.jpg"] || !names["manifest.json"] {
		t.Fatalf("missing entries: %v", names)
	}
	if names["skipped.png"] {
		t.Fatal("dataless asset must not be written as a file")
	}

	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		raw, _ := io.ReadAll(rc)
		rc.Close()
		var manifest struct {
			Items []struct {
				Filename string `json:"filename"`
				Bytes    int    `json:"bytes"`
			} `json:"items"`
		}
		if err := json.Unmarshal(raw, &manifest); err != nil {
			t.Fatal(err)
		}
		// Skipped assets still show up in the manifest.
		if len(manifest.Items) != 3 {
			t.Fatalf("manifest items = %d, want 3", len(manifest.Items))
		}
	}
}
