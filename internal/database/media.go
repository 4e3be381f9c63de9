package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-server/internal/mediatypes"
)

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = errors.New("not found")

// UpsertLibrary inserts or updates a library by path and returns its ID.
func (d *Database) UpsertLibrary(ctx context.Context, name, path string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_library", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO libraries (name, path) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			updated_at = strftime('%s', 'now')
	`, name, path)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert library: %w", err)
	}

	var id int64
	err = d.db.QueryRowContext(ctx, "SELECT id FROM libraries WHERE path = ?", path).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up library id: %w", err)
	}
	return id, nil
}

// ListLibraries returns all registered libraries with item counts.
func (d *Database) ListLibraries(ctx context.Context) ([]Library, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_libraries", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT l.id, l.name, l.path, l.created_at, l.updated_at,
		       (SELECT COUNT(*) FROM media m WHERE m.library_id = l.id) AS item_count
		FROM libraries l
		ORDER BY l.name COLLATE NOCASE
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var libraries []Library
	for rows.Next() {
		var lib Library
		var createdAt, updatedAt int64
		if err = rows.Scan(&lib.ID, &lib.Name, &lib.Path, &createdAt, &updatedAt, &lib.ItemCount); err != nil {
			return nil, err
		}
		lib.CreatedAt = time.Unix(createdAt, 0)
		lib.UpdatedAt = time.Unix(updatedAt, 0)
		libraries = append(libraries, lib)
	}
	return libraries, rows.Err()
}

// GetLibrary returns a single library by ID.
func (d *Database) GetLibrary(ctx context.Context, id int64) (*Library, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_library", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var lib Library
	var createdAt, updatedAt int64
	err = d.db.QueryRowContext(ctx,
		"SELECT id, name, path, created_at, updated_at FROM libraries WHERE id = ?",
		id,
	).Scan(&lib.ID, &lib.Name, &lib.Path, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	lib.CreatedAt = time.Unix(createdAt, 0)
	lib.UpdatedAt = time.Unix(updatedAt, 0)
	return &lib, nil
}

// UpsertMedia inserts or updates a media record within a transaction.
func (d *Database) UpsertMedia(tx *sql.Tx, item *MediaItem) error {
	query := `
	INSERT INTO media (library_id, name, path, media_type, size, mod_time, duration, codec, width, height, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	ON CONFLICT(path) DO UPDATE SET
		library_id = excluded.library_id,
		name = excluded.name,
		media_type = excluded.media_type,
		size = excluded.size,
		mod_time = excluded.mod_time,
		duration = COALESCE(excluded.duration, media.duration),
		codec = COALESCE(excluded.codec, media.codec),
		width = COALESCE(excluded.width, media.width),
		height = COALESCE(excluded.height, media.height),
		updated_at = strftime('%s', 'now')
	`

	// Background context: the transaction controls the operation's lifecycle.
	_, err := tx.ExecContext(context.Background(), query,
		item.LibraryID,
		item.Name,
		item.Path,
		string(item.Type),
		item.Size,
		item.ModTime.Unix(),
		nullFloat(item.Duration),
		nullString(item.Codec),
		nullInt(item.Width),
		nullInt(item.Height),
	)
	return err
}

// DeleteMissingMedia removes media rows for a library that weren't seen during
// indexing. Must be called within a transaction.
func (d *Database) DeleteMissingMedia(tx *sql.Tx, libraryID int64, cutoffTime time.Time) (int64, error) {
	result, err := tx.ExecContext(context.Background(),
		"DELETE FROM media WHERE library_id = ? AND updated_at < ?",
		libraryID, cutoffTime.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetMediaByID retrieves a single media item.
func (d *Database) GetMediaByID(ctx context.Context, id int64) (*MediaItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_media", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
	SELECT id, library_id, name, path, media_type, size, mod_time, duration, codec, width, height
	FROM media WHERE id = ?
	`

	item, err := scanMediaItem(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateMediaProbe stores ffprobe results for a media item.
func (d *Database) UpdateMediaProbe(ctx context.Context, id int64, duration float64, codec string, width, height int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_media_probe", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE media SET duration = ?, codec = ?, width = ?, height = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, duration, nullString(codec), nullInt(width), nullInt(height), id)
	return err
}

// ListMediaByLibrary returns one page of a library's media, sorted by name.
func (d *Database) ListMediaByLibrary(ctx context.Context, libraryID int64, page, pageSize int) (*LibraryListing, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_media", start, err) }()

	lib, err := d.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 100
	}

	var total int
	err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media WHERE library_id = ?", libraryID,
	).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, library_id, name, path, media_type, size, mod_time, duration, codec, width, height
		FROM media
		WHERE library_id = ?
		ORDER BY name COLLATE NOCASE
		LIMIT ? OFFSET ?
	`, libraryID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items, err := collectMediaItems(rows)
	if err != nil {
		return nil, err
	}

	return &LibraryListing{
		Library:    *lib,
		Items:      items,
		TotalItems: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// SearchMedia performs a full-text search over media names and paths.
func (d *Database) SearchMedia(ctx context.Context, query string, page, pageSize int) (*SearchResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("search_media", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	// Trigram tokenizer needs at least 3 characters
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < 3 {
		return &SearchResult{Items: []MediaItem{}, Query: query, Page: page, PageSize: pageSize}, nil
	}
	ftsQuery := `"` + strings.ReplaceAll(trimmed, `"`, `""`) + `"`

	var total int
	err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_fts WHERE media_fts MATCH ?", ftsQuery,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("search count failed: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT m.id, m.library_id, m.name, m.path, m.media_type, m.size, m.mod_time, m.duration, m.codec, m.width, m.height
		FROM media_fts f
		JOIN media m ON m.id = f.rowid
		WHERE media_fts MATCH ?
		ORDER BY rank
		LIMIT ? OFFSET ?
	`, ftsQuery, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := collectMediaItems(rows)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Items:      items,
		Query:      query,
		TotalItems: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// MediaNeedingProbe returns video items that have no stored duration
// yet. The indexer probes these after each scan.
func (d *Database) MediaNeedingProbe(ctx context.Context, limit int) ([]MediaItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("media_needing_probe", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if limit < 1 {
		limit = 100
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, library_id, name, path, media_type, size, mod_time, duration, codec, width, height
		FROM media
		WHERE media_type = 'video' AND duration IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectMediaItems(rows)
}

// MediaIDs returns the set of all known media IDs. Used by the orphan reaper
// to decide which cache directories still have a backing catalog row.
func (d *Database) MediaIDs(ctx context.Context) (map[int64]struct{}, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("media_ids", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT id FROM media")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ComputeStats recalculates index statistics from the catalog.
func (d *Database) ComputeStats(ctx context.Context) (IndexStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("compute_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats IndexStats
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN media_type = 'video' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN media_type = 'image' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(size), 0)
		FROM media
	`).Scan(&stats.TotalItems, &stats.TotalVideos, &stats.TotalImages, &stats.TotalSize)
	return stats, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMediaItem(row rowScanner) (*MediaItem, error) {
	var item MediaItem
	var mediaType string
	var modTime int64
	var duration sql.NullFloat64
	var codec sql.NullString
	var width, height sql.NullInt64

	err := row.Scan(
		&item.ID, &item.LibraryID, &item.Name, &item.Path, &mediaType,
		&item.Size, &modTime, &duration, &codec, &width, &height,
	)
	if err != nil {
		return nil, err
	}

	item.Type = mediatypes.MediaType(mediaType)
	item.ModTime = time.Unix(modTime, 0)
	item.Duration = duration.Float64
	item.Codec = codec.String
	item.Width = int(width.Int64)
	item.Height = int(height.Int64)
	return &item, nil
}

func collectMediaItems(rows *sql.Rows) ([]MediaItem, error) {
	items := []MediaItem{}
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v > 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}
