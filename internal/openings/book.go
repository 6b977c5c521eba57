// Package openings resolves an opening annotation from accumulated movetext.
// The book file is a flat PGN-derived catalog: each entry carries Site/White/
// Black tags and a single movetext line; the annotation shown to players is
// the White tag, falling back to Black.
package openings

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// Entry is one catalog line keyed by its movetext.
type Entry struct {
	Site  string
	White string
	Black string
	Moves string
}

// Book maps normalized movetext to its catalog entry. Loaded once at startup;
// lookups are read-only afterwards.
type Book struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Load parses the catalog file. A missing file yields an empty book rather
// than an error so the server can run without annotations.
func Load(path string) (*Book, error) {
	b := &Book{entries: make(map[string]Entry)}
	if strings.TrimSpace(path) == "" {
		return b, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := b.parse(bufio.NewScanner(f)); err != nil {
		return nil, err
	}
	return b, nil
}

// Parse loads entries from raw catalog text. Exposed for tests.
func Parse(text string) (*Book, error) {
	b := &Book{entries: make(map[string]Entry)}
	if err := b.parse(bufio.NewScanner(strings.NewReader(text))); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Book) parse(sc *bufio.Scanner) error {
	var cur Entry
	flush := func() {
		if key := normalizeMovetext(cur.Moves); key != "" {
			b.entries[key] = cur
		}
		cur = Entry{}
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "[Site "):
			flush()
			cur.Site = tagValue(line)
		case strings.HasPrefix(line, "[White "):
			cur.White = tagValue(line)
		case strings.HasPrefix(line, "[Black "):
			cur.Black = tagValue(line)
		case line == "" || strings.HasPrefix(line, "["):
			// other tags and blank separators carry nothing we need
		default:
			cur.Moves = line
		}
	}
	flush()
	return sc.Err()
}

func tagValue(line string) string {
	start := strings.Index(line, `"`)
	end := strings.LastIndex(line, `"`)
	if start < 0 || end <= start {
		return ""
	}
	return line[start+1 : end]
}

// Annotate returns the descriptive text for the given movetext, or "" when
// the line is not in the book.
func (b *Book) Annotate(movetext string) string {
	key := normalizeMovetext(movetext)
	if key == "" {
		return ""
	}
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return ""
	}
	if entry.White != "" {
		return entry.White
	}
	return entry.Black
}

// Len reports the number of catalog entries.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func normalizeMovetext(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
