package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ListTags returns all tags with item counts.
func (d *Database) ListTags(ctx context.Context) ([]Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_tags", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.name, COALESCE(t.color, ''), t.created_at,
		       (SELECT COUNT(*) FROM media_tags mt WHERE mt.tag_id = t.id) AS item_count
		FROM tags t
		ORDER BY t.name COLLATE NOCASE
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tags := []Tag{}
	for rows.Next() {
		var tag Tag
		var createdAt int64
		if err = rows.Scan(&tag.ID, &tag.Name, &tag.Color, &createdAt, &tag.ItemCount); err != nil {
			return nil, err
		}
		tag.CreatedAt = time.Unix(createdAt, 0)
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// CreateTag creates a tag if it doesn't already exist and returns it.
func (d *Database) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_tag", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO tags (name, color) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET color = COALESCE(excluded.color, tags.color)
	`, name, nullString(color))
	if err != nil {
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}

	var tag Tag
	var createdAt int64
	var dbColor sql.NullString
	err = d.db.QueryRowContext(ctx,
		"SELECT id, name, color, created_at FROM tags WHERE name = ? COLLATE NOCASE",
		name,
	).Scan(&tag.ID, &tag.Name, &dbColor, &createdAt)
	if err != nil {
		return nil, err
	}
	tag.Color = dbColor.String
	tag.CreatedAt = time.Unix(createdAt, 0)
	return &tag, nil
}

// DeleteTag removes a tag and its associations.
func (d *Database) DeleteTag(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_tag", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}

// TagMedia associates a tag with a media item.
func (d *Database) TagMedia(ctx context.Context, mediaID, tagID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("tag_media", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO media_tags (media_id, tag_id) VALUES (?, ?)
		ON CONFLICT(media_id, tag_id) DO NOTHING
	`, mediaID, tagID)
	return err
}

// UntagMedia removes a tag from a media item.
func (d *Database) UntagMedia(ctx context.Context, mediaID, tagID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("untag_media", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		"DELETE FROM media_tags WHERE media_id = ? AND tag_id = ?",
		mediaID, tagID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}

// MediaTags returns the tag names for a media item.
func (d *Database) MediaTags(ctx context.Context, mediaID int64) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("media_tags", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.name
		FROM tags t
		JOIN media_tags mt ON mt.tag_id = t.id
		WHERE mt.media_id = ?
		ORDER BY t.name COLLATE NOCASE
	`, mediaID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// MediaByTag returns all media items carrying the given tag.
func (d *Database) MediaByTag(ctx context.Context, tagID int64) ([]MediaItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("media_by_tag", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var exists bool
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) > 0 FROM tags WHERE id = ?", tagID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		err = ErrNotFound
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT m.id, m.library_id, m.name, m.path, m.media_type, m.size, m.mod_time, m.duration, m.codec, m.width, m.height
		FROM media m
		JOIN media_tags mt ON mt.media_id = m.id
		WHERE mt.tag_id = ?
		ORDER BY m.name COLLATE NOCASE
	`, tagID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectMediaItems(rows)
}
