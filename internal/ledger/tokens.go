package ledger

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/atomicfile"
)

// TokenFile is a newline-delimited, sorted, de-duplicated set of tokens on disk.
// Every mutation re-reads the file, merges, and atomically replaces it, so two
// overlapping writers can only lose each other's additions, never corrupt the
// file, and the next run re-adds whatever was lost.
type TokenFile struct {
	path string
}

// NewTokenFile returns a token set backed by path. The file need not exist.
func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

func (f *TokenFile) Path() string { return f.path }

// Load returns the tokens in the file, sorted and de-duplicated. A missing file
// is an empty set.
func (f *TokenFile) Load() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", f.path, err)
	}
	return parseTokens(data), nil
}

// Contains reports whether token is present.
func (f *TokenFile) Contains(token string) (bool, error) {
	tokens, err := f.Load()
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(tokens, token)
	return found, nil
}

// Add merges tokens into the file. It reports whether anything new was written;
// adding tokens that are all present already leaves the file untouched.
func (f *TokenFile) Add(tokens ...string) (bool, error) {
	existing, err := f.Load()
	if err != nil {
		return false, err
	}

	merged := slices.Clone(existing)
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, found := slices.BinarySearch(merged, t); !found {
			merged = append(merged, t)
			slices.Sort(merged)
		}
	}
	if len(merged) == len(existing) {
		return false, nil
	}

	if err := atomicfile.WriteFile(f.path, formatTokens(merged), 0o644); err != nil {
		return false, fmt.Errorf("write ledger %s: %w", f.path, err)
	}
	return true, nil
}

func parseTokens(data []byte) []string {
	var tokens []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if t := strings.TrimSpace(sc.Text()); t != "" {
			tokens = append(tokens, t)
		}
	}
	slices.Sort(tokens)
	return slices.Compact(tokens)
}

func formatTokens(tokens []string) []byte {
	var b bytes.Buffer
	for _, t := range tokens {
		b.WriteString(t)
		b.WriteByte('\n')
	}
	return b.Bytes()
}
