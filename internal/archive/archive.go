// Package archive packs named byte streams into a zip container.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

// fallbackName is used when a display name sanitises to nothing.
const fallbackName = "document"

// Entry is one file inside the archive.
type Entry struct {
	Name     string
	Modified time.Time
	Body     io.Reader
}

// SanitizeName reduces a display name to a single safe path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return fallbackName
	}
	return name
}

// EntryNames returns one unique entry name per input, in input order.
// The first occurrence of a name keeps it; later duplicates get " (2)", " (3)", ...
// before the extension, skipping any candidate that is already taken. Comparison is
// case-insensitive so the archive also extracts cleanly on case-folding filesystems.
func EntryNames(names []string) []string {
	out := make([]string, len(names))
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[strings.ToLower(SanitizeName(n))] = false
	}

	for i, n := range names {
		name := SanitizeName(n)
		if !taken[strings.ToLower(name)] {
			taken[strings.ToLower(name)] = true
			out[i] = name
			continue
		}

		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for k := 2; ; k++ {
			candidate := stem + " (" + strconv.Itoa(k) + ")" + ext
			key := strings.ToLower(candidate)
			// Taken, or reserved by a later input that carries this exact name.
			if _, present := taken[key]; present {
				continue
			}
			taken[key] = true
			out[i] = candidate
			break
		}
	}
	return out
}

// Write streams entries into a zip written to w, in slice order, and returns the number
// of uncompressed bytes copied. It stops with ctx.Err() once ctx is done.
func Write(ctx context.Context, w io.Writer, entries []Entry) (int64, error) {
	zw := zip.NewWriter(w)
	var total int64

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		fh := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		if !e.Modified.IsZero() {
			fh.Modified = e.Modified
		}
		fw, err := zw.CreateHeader(fh)
		if err != nil {
			return total, fmt.Errorf("create entry %s: %w", e.Name, err)
		}
		n, err := io.Copy(fw, contextReader{ctx: ctx, r: e.Body})
		total += n
		if err != nil {
			return total, fmt.Errorf("write entry %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return total, fmt.Errorf("finalize archive: %w", err)
	}
	return total, nil
}

// contextReader aborts a copy between reads once the context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
