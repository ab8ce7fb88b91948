// Package accounts loads the per-region account lists that tokens are
// requested for.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// ErrNotFound is returned by Source.Load when a region has no account file
var ErrNotFound = errors.New("account file not found")

// Account is a single game account. The field names match the files that
// have always been used as input, so they are kept as is
type Account struct {
	UID      string `json:"uid" csv:"uid"`
	Password string `json:"password" csv:"password"`
}

// Format selects the on-disk encoding of an account list
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name from configuration
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown account format %q, expected json or csv", s)
	}
}

// Source finds account files named `<Prefix><REGION>.<format>` in Dir
type Source struct {
	Dir    string
	Prefix string
	Format Format
}

// NewSource returns a Source with the default `uid_` prefix
func NewSource(dir string, format Format) *Source {
	return &Source{
		Dir:    dir,
		Prefix: "uid_",
		Format: format,
	}
}

// Path returns the file that accounts for region are read from
func (s *Source) Path(region string) string {
	format := s.Format
	if format == "" {
		format = FormatJSON
	}
	return filepath.Join(s.Dir, fmt.Sprintf("%s%s.%s", s.Prefix, region, format))
}

// Load reads the accounts for region. A missing file is reported as
// ErrNotFound so that callers can skip the region
func (s *Source) Load(region string) ([]Account, error) {
	path := s.Path(region)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, path)
		}
		return nil, fmt.Errorf("error opening account file %v: %w", path, err)
	}
	defer f.Close()

	var accounts []Account
	switch s.Format {
	case FormatCSV:
		accounts, err = ReadCSV(f)
	default:
		accounts, err = ReadJSON(f)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading account file %v: %w", path, err)
	}

	return accounts, nil
}

// ReadJSON decodes a JSON array of accounts
func ReadJSON(r io.Reader) ([]Account, error) {
	var accounts []Account
	if err := json.NewDecoder(r).Decode(&accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ReadCSV decodes a CSV file with a `uid,password` header row
func ReadCSV(r io.Reader) ([]Account, error) {
	var accounts []Account
	if err := gocsv.Unmarshal(r, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}
