// Package export reads and writes JSONL snapshots of the local cache.
//
// A snapshot holds one JSON record per line, categories before entries so
// an import can restore referential order in a single pass. Snapshots are
// used for backups and for seeding a new device before its first sync.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chorequest/chorequest/internal/cache"
	"github.com/chorequest/chorequest/internal/model"
)

// Record kinds used as the per-line discriminator.
const (
	KindEntry    = "entry"
	KindCategory = "category"
)

// Record is one line of a JSONL snapshot. Exactly one of Entry or
// Category is set, selected by Kind.
type Record struct {
	Kind     string             `json:"kind"`
	Entry    *model.RewardEntry `json:"entry,omitempty"`
	Category *model.Category    `json:"category,omitempty"`
}

// ExportResult contains statistics about a completed export.
type ExportResult struct {
	EntriesExported    int
	CategoriesExported int
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	Path   string // Input JSONL file path
	DryRun bool   // Parse and validate without writing to the cache
	Backup bool   // Copy the input file aside before importing
}

// ImportResult contains statistics about a completed import.
type ImportResult struct {
	EntriesImported    int
	CategoriesImported int
	BackupCreated      string
	Errors             []string
}

const exportPageSize = 200

// Export writes all live categories and entries for an owner to w as JSONL.
func Export(ctx context.Context, store *cache.Store, ownerID string, w io.Writer) (*ExportResult, error) {
	result := &ExportResult{}
	enc := json.NewEncoder(w)

	cats, err := store.GetCategories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	for _, c := range cats {
		if err := enc.Encode(&Record{Kind: KindCategory, Category: c}); err != nil {
			return nil, fmt.Errorf("failed to encode category %s: %w", c.ID, err)
		}
		result.CategoriesExported++
	}

	for page := 1; ; page++ {
		entries, err := store.GetEntries(ctx, ownerID, cache.EntryFilter{
			Page:     page,
			PageSize: exportPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}
		for _, e := range entries.Items {
			if err := enc.Encode(&Record{Kind: KindEntry, Entry: e}); err != nil {
				return nil, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
			}
			result.EntriesExported++
		}
		if !entries.HasNextPage {
			break
		}
	}

	return result, nil
}

// ExportFile writes a snapshot to path, atomically via a temp file.
func ExportFile(ctx context.Context, store *cache.Store, ownerID, path string) (*ExportResult, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, store, ownerID, f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to flush temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// ReadJSONL reads a snapshot file and returns the parsed records.
// Records that fail validation are returned as error strings rather than
// aborting the whole read, so a partially corrupt snapshot still imports
// its good lines.
func ReadJSONL(path string) ([]*Record, []string, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var (
		records []*Record
		errs    []string
	)
	decoder := json.NewDecoder(file)
	lineNum := 0

	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		switch rec.Kind {
		case KindEntry:
			if rec.Entry == nil {
				errs = append(errs, fmt.Sprintf("line %d: entry record without entry body", lineNum))
				continue
			}
			rec.Entry.SetDefaults()
			if err := rec.Entry.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("line %d: invalid entry: %v", lineNum, err))
				continue
			}
		case KindCategory:
			if rec.Category == nil {
				errs = append(errs, fmt.Sprintf("line %d: category record without category body", lineNum))
				continue
			}
			rec.Category.SetDefaults()
			if err := rec.Category.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("line %d: invalid category: %v", lineNum, err))
				continue
			}
		default:
			errs = append(errs, fmt.Sprintf("line %d: unknown record kind %q", lineNum, rec.Kind))
			continue
		}

		records = append(records, &rec)
	}

	return records, errs, nil
}

// Import loads a JSONL snapshot into the cache. Existing rows with the
// same IDs are replaced. The sync status on each record is preserved, so
// a later resync pushes exactly what the snapshot marked dirty.
func Import(ctx context.Context, store *cache.Store, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	records, errs, err := ReadJSONL(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}
	result.Errors = errs

	for _, rec := range records {
		switch rec.Kind {
		case KindCategory:
			if !opts.DryRun {
				if err := store.CacheCategory(ctx, rec.Category); err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("failed to import category %s: %v", rec.Category.ID, err))
					continue
				}
			}
			result.CategoriesImported++
		case KindEntry:
			if !opts.DryRun {
				if err := store.CacheEntry(ctx, rec.Entry); err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("failed to import entry %s: %v", rec.Entry.ID, err))
					continue
				}
			}
			result.EntriesImported++
		}
	}

	return result, nil
}
