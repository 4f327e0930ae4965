// Package zip builds downloadable archives of generated images.
package zip

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs the assets plus a manifest.json describing the
// archive contents. Assets without data are listed in the manifest but
// not written.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	type manifestEntry struct {
		Filename string `json:"filename"`
		MIME     string `json:"mime"`
		Bytes    int    `json:"bytes"`
	}
	manifest := struct {
		ExportedAt time.Time       `json:"exported_at"`
		Items      []manifestEntry `json:"items"`
	}{ExportedAt: time.Now().UTC()}

	for _, asset := range assets {
		manifest.Items = append(manifest.Items, manifestEntry{
			Filename: asset.Filename,
			MIME:     asset.MIME,
			Bytes:    len(asset.Data),
		})
		if len(asset.Data) == 0 {
			continue
		}
		w, err := zw.Create(asset.Filename)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}

	if w, err := zw.Create("manifest.json"); err == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(manifest)
	}

	_ = zw.Close()
	return buf.Bytes()
}
