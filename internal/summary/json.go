package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"yqhp/load-engine/pkg/types"
)

// RenderJSON writes s as indented JSON.
func RenderJSON(w io.Writer, s *types.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteJSONFile writes s to path, creating parent directories.
func WriteJSONFile(path string, s *types.RunSummary) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create summary directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	if err := RenderJSON(f, s); err != nil {
		_ = f.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	return f.Close()
}
