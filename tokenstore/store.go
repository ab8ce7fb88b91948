// Package tokenstore writes issued tokens to the per-region output files.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultFallbackFile receives tokens for any region without an explicit entry
const DefaultFallbackFile = "token_bd.json"

// Record is a single usable token
type Record struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// Layout maps regions onto output file names. Several regions can share a
// file; the last region written wins since every write replaces the file
type Layout struct {
	Files    map[string]string
	Fallback string
}

// DefaultLayout is the grouping the downstream consumers read from: India
// gets its own file, the Americas share one, everything else falls back
func DefaultLayout() Layout {
	return Layout{
		Files: map[string]string{
			"IND": "token_ind.json",
			"BR":  "token_br.json",
			"US":  "token_br.json",
			"SAC": "token_br.json",
			"NA":  "token_br.json",
		},
		Fallback: DefaultFallbackFile,
	}
}

// File returns the output file name for region. Region matching is case
// insensitive
func (l Layout) File(region string) string {
	if f, ok := l.Files[strings.ToUpper(region)]; ok && f != "" {
		return f
	}
	if l.Fallback != "" {
		return l.Fallback
	}
	return DefaultFallbackFile
}

// WithOverrides returns a copy of l with the given region to file entries
// applied on top
func (l Layout) WithOverrides(overrides map[string]string) Layout {
	files := make(map[string]string, len(l.Files)+len(overrides))
	for region, file := range l.Files {
		files[strings.ToUpper(region)] = file
	}
	for region, file := range overrides {
		files[strings.ToUpper(region)] = file
	}
	return Layout{Files: files, Fallback: l.Fallback}
}

// SharedFiles lists the files that more than one explicit region writes to
func (l Layout) SharedFiles() map[string][]string {
	byFile := make(map[string][]string)
	for region, file := range l.Files {
		byFile[file] = append(byFile[file], region)
	}
	shared := make(map[string][]string)
	for file, regions := range byFile {
		if len(regions) > 1 {
			sort.Strings(regions)
			shared[file] = regions
		}
	}
	return shared
}

// Store writes records under Dir according to Layout
type Store struct {
	Dir    string
	Layout Layout
}

// New returns a Store rooted at dir
func New(dir string, layout Layout) *Store {
	return &Store{Dir: dir, Layout: layout}
}

// Path returns the full path of the file region is written to
func (s *Store) Path(region string) string {
	return filepath.Join(s.Dir, s.Layout.File(region))
}

// Write replaces the output file for region with records. The file is
// written to a temporary file first and renamed so readers never see a
// partial write
func (s *Store) Write(region string, records []Record) (string, error) {
	path := s.Path(region)

	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return path, fmt.Errorf("error encoding tokens for %v: %w", region, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, fmt.Errorf("error creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return path, fmt.Errorf("error creating temporary token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return path, fmt.Errorf("error writing token file %v: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return path, fmt.Errorf("error closing token file %v: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return path, fmt.Errorf("error setting token file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return path, fmt.Errorf("error replacing token file %v: %w", path, err)
	}

	return path, nil
}

// Read returns the records currently stored for region
func (s *Store) Read(region string) ([]Record, error) {
	data, err := os.ReadFile(s.Path(region))
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("error decoding token file %v: %w", s.Path(region), err)
	}
	return records, nil
}
