// Package database manages the SQLite media catalog: libraries, indexed
// media items with probe metadata, tags, full-text search, and the
// single-user authentication tables.
package database
