package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ------------------------------
// Page version methods
// ------------------------------

// PutPageVersion inserts a version, replacing any row with the same VersionID.
// Emits a VersionSavedEvent after a successful write.
func (db *DB) PutPageVersion(v PageVersion) error {
	if v.VersionID == "" {
		return errors.New("page version: missing version id")
	}
	if v.ContentType == "" {
		v.ContentType = ContentTypeHTML
	}

	_, err := db.db.Exec(`
		INSERT OR REPLACE INTO page_versions
			(version_id, url, url_key, title, captured_at, hash, content_type, html)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.VersionID,
		v.URL,
		v.URLKey,
		v.Title,
		toMillis(v.CapturedAt),
		v.Hash,
		v.ContentType,
		v.HTML,
	)
	if err != nil {
		return fmt.Errorf("failed to put page version: %w", err)
	}

	db.emit(VersionSavedEvent{Version: withoutHTML(v)})
	return nil
}

// GetVersionsByURLKey returns every version stored for urlKey, newest first.
// The HTML body is not loaded.
func (db *DB) GetVersionsByURLKey(urlKey string) ([]PageVersion, error) {
	rows, err := db.db.Query(`
		SELECT version_id, url, url_key, title, captured_at, hash, content_type
		FROM page_versions
		WHERE url_key = ?
		ORDER BY captured_at DESC, version_id DESC
	`, urlKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list page versions: %w", err)
	}
	defer rows.Close()

	out := []PageVersion{}
	for rows.Next() {
		var (
			v          PageVersion
			capturedAt int64
		)
		if err := rows.Scan(&v.VersionID, &v.URL, &v.URLKey, &v.Title, &capturedAt, &v.Hash, &v.ContentType); err != nil {
			return nil, fmt.Errorf("failed to scan page version: %w", err)
		}
		v.CapturedAt = fromMillis(capturedAt)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list page versions: %w", err)
	}
	return out, nil
}

// LatestVersion returns the most recently captured version for urlKey
// without its HTML body. The boolean is false when none exists.
func (db *DB) LatestVersion(urlKey string) (PageVersion, bool, error) {
	var (
		v          PageVersion
		capturedAt int64
	)
	err := db.db.QueryRow(`
		SELECT version_id, url, url_key, title, captured_at, hash, content_type
		FROM page_versions
		WHERE url_key = ?
		ORDER BY captured_at DESC, version_id DESC
		LIMIT 1
	`, urlKey).Scan(&v.VersionID, &v.URL, &v.URLKey, &v.Title, &capturedAt, &v.Hash, &v.ContentType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PageVersion{}, false, nil
		}
		return PageVersion{}, false, fmt.Errorf("failed to get latest page version: %w", err)
	}
	v.CapturedAt = fromMillis(capturedAt)
	return v, true, nil
}

// GetVersion returns a single version including its HTML body.
func (db *DB) GetVersion(versionID string) (PageVersion, error) {
	var (
		v          PageVersion
		capturedAt int64
	)
	err := db.db.QueryRow(`
		SELECT version_id, url, url_key, title, captured_at, hash, content_type, html
		FROM page_versions
		WHERE version_id = ?
	`, versionID).Scan(&v.VersionID, &v.URL, &v.URLKey, &v.Title, &capturedAt, &v.Hash, &v.ContentType, &v.HTML)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PageVersion{}, fmt.Errorf("page version %s: %w", versionID, ErrNotFound)
		}
		return PageVersion{}, fmt.Errorf("failed to get page version: %w", err)
	}
	v.CapturedAt = fromMillis(capturedAt)
	return v, nil
}

// DeleteVersion removes a version. Emits a VersionDeletedEvent.
func (db *DB) DeleteVersion(versionID string) error {
	res, err := db.db.Exec("DELETE FROM page_versions WHERE version_id = ?", versionID)
	if err != nil {
		return fmt.Errorf("failed to delete page version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to determine rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("page version %s: %w", versionID, ErrNotFound)
	}

	db.emit(VersionDeletedEvent{VersionID: versionID})
	return nil
}

func withoutHTML(v PageVersion) PageVersion {
	v.HTML = ""
	return v
}
