package contextstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps one markdown file per entry: a fenced header followed by
// the content body. The directory is created lazily on first write; a
// missing directory reads as an empty store.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(entryID string) string {
	return filepath.Join(s.dir, entryID+".md")
}

// Store writes the entry to <EntryId>.md, overwriting by ID.
func (s *FileStore) Store(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.EntryID == "" {
		return fmt.Errorf("entry requires an ID")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "entryId: %s\n", entry.EntryID)
	fmt.Fprintf(&sb, "category: %s\n", entry.Category)
	fmt.Fprintf(&sb, "tags: [%s]\n", strings.Join(entry.Tags, ", "))
	if entry.ReferenceCode != "" {
		fmt.Fprintf(&sb, "referenceCode: %s\n", entry.ReferenceCode)
	}
	fmt.Fprintf(&sb, "createdAt: %s\n", entry.CreatedAt.UTC().Format(time.RFC3339))
	sb.WriteString("---\n")
	sb.WriteString(entry.Content)

	if err := os.WriteFile(s.path(entry.EntryID), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write entry %s: %w", entry.EntryID, err)
	}
	return nil
}

// Query loads every entry and filters in memory. A missing directory
// yields no results.
func (s *FileStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read context dir: %w", err)
	}

	var matched []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		entry, err := s.load(filepath.Join(s.dir, f.Name()))
		if err != nil {
			// A damaged file never blocks the rest of the store.
			continue
		}
		if q.matches(entry) {
			matched = append(matched, entry)
		}
	}
	return q.finish(matched), nil
}

func (s *FileStore) load(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	return parseEntry(string(data))
}

// parseEntry splits the fenced header from the body and decodes the
// header's key-value lines.
func parseEntry(raw string) (Entry, error) {
	body, ok := strings.CutPrefix(raw, "---\n")
	if !ok {
		return Entry{}, fmt.Errorf("missing header fence")
	}
	header, content, ok := strings.Cut(body, "\n---\n")
	if !ok {
		return Entry{}, fmt.Errorf("missing closing fence")
	}

	entry := Entry{Content: strings.TrimPrefix(content, "\n")}
	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "entryId":
			entry.EntryID = value
		case "category":
			entry.Category = Category(value)
		case "tags":
			value = strings.Trim(value, "[]")
			if value != "" {
				for _, tag := range strings.Split(value, ",") {
					entry.Tags = append(entry.Tags, strings.TrimSpace(tag))
				}
			}
		case "referenceCode":
			entry.ReferenceCode = value
		case "createdAt":
			at, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return Entry{}, fmt.Errorf("parse createdAt: %w", err)
			}
			entry.CreatedAt = at
		}
	}
	if entry.EntryID == "" {
		return Entry{}, fmt.Errorf("entry has no ID")
	}
	return entry, nil
}
