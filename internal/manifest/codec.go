package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/yourusername/repro-backtest/internal/models"
)

// separator between digest and path, as written by sha256sum.
const separator = "  "

// Entry is one line of a manifest listing.
type Entry struct {
	Fingerprint  models.Digest
	RelativePath string
}

// Encode writes records as "<digest>  <relative_path>" lines in the given order.
func Encode(w io.Writer, records []models.FileRecord) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if rec.RelativePath == "" || strings.ContainsAny(rec.RelativePath, "\n\r") {
			return fmt.Errorf("unencodable path %q", rec.RelativePath)
		}
		if _, err := fmt.Fprintf(bw, "%s%s%s\n", rec.Fingerprint, separator, rec.RelativePath); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode parses a manifest listing. Blank lines are ignored; malformed lines,
// invalid digests and repeated paths are errors.
func Decode(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []Entry
	seen := make(map[string]struct{})
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		digestText, relPath, ok := strings.Cut(line, separator)
		if !ok || relPath == "" {
			return nil, fmt.Errorf("line %d: expected \"<digest>  <path>\"", lineNo)
		}
		digest, err := models.ParseDigest(digestText)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, dup := seen[relPath]; dup {
			return nil, fmt.Errorf("line %d: %w: %s", lineNo, models.ErrDuplicatePath, relPath)
		}
		seen[relPath] = struct{}{}
		entries = append(entries, Entry{Fingerprint: digest, RelativePath: relPath})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
