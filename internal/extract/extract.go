package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxBinaryBytes is how much of a non text file is read.
const MaxBinaryBytes = 100_000

var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
	".html":     true,
	".xml":      true,
}

// IsText reports whether filename is read in full.
func IsText(filename string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(filename))]
}

// File returns the text content of the file at path.
func File(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f, filepath.Base(path))
}

// Reader returns the text content of r. Text formats are read in full, other
// formats yield their first MaxBinaryBytes decoded as UTF-8 with invalid
// sequences dropped.
func Reader(r io.Reader, filename string) (string, error) {
	if !IsText(filename) {
		r = io.LimitReader(r, MaxBinaryBytes)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}

	text := strings.ToValidUTF8(string(data), "")
	return strings.ReplaceAll(text, "\x00", ""), nil
}
