package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProcessedDir is the per-subject folder holding registered movie frames.
const ProcessedDir = "processed"

// DiscoverSubjects builds one manifest per subject folder under root. Each
// subject needs a processed/ directory and a positions sheet (.xlsx or .csv)
// at its top level; the first sheet by name is used. Outputs go to
// <outputRoot>/<subject>, or <subject>/montage when outputRoot is empty.
func DiscoverSubjects(root, outputRoot string) ([]*Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	var out []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		subject := filepath.Join(root, e.Name())
		processed := filepath.Join(subject, ProcessedDir)
		if st, err := os.Stat(processed); err != nil || !st.IsDir() {
			continue
		}
		sheet, err := firstSheet(subject)
		if err != nil {
			return nil, err
		}
		output := filepath.Join(subject, "montage")
		if outputRoot != "" {
			output = filepath.Join(outputRoot, e.Name())
		}
		m := &Manifest{
			Name:      e.Name(),
			Directory: processed,
			Positions: sheet,
			Eye:       EyeOS,
			Naming:    DefaultNaming(),
			Output:    output,
		}
		m.applyDefaults()
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func firstSheet(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}
	var sheets []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".xlsx", ".csv":
			if !e.IsDir() {
				sheets = append(sheets, e.Name())
			}
		}
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: no positions sheet in %s", ErrMalformed, dir)
	}
	sort.Strings(sheets)
	return filepath.Join(dir, sheets[0]), nil
}
