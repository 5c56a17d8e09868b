package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"MomentumSentinel/internal/model"
)

// ManifestFilename is written next to the series files.
const ManifestFilename = "manifest.json"

// LoadManifest reads the manifest. A missing file yields an empty list.
func LoadManifest(path string) ([]model.ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []model.ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	return entries, nil
}

// SaveManifest atomically writes the manifest as indented JSON.
func SaveManifest(path string, entries []model.ManifestEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}
