package db

import (
	"errors"
	"fmt"
	"time"
)

// DefaultVisitsPageLimit is used when a VisitsPageQuery has no positive limit.
const DefaultVisitsPageLimit = 50

// ------------------------------
// Visit methods
// ------------------------------

// AppendVisit records a visit. Emits a VisitRecordedEvent.
func (db *DB) AppendVisit(v Visit) error {
	if v.VisitID == "" {
		return errors.New("visit: missing visit id")
	}

	_, err := db.db.Exec(
		"INSERT INTO visits (visit_id, url, url_key, visit_at) VALUES (?, ?, ?, ?)",
		v.VisitID,
		v.URL,
		v.URLKey,
		toMillis(v.VisitAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append visit: %w", err)
	}

	db.emit(VisitRecordedEvent{Visit: v})
	return nil
}

// PurgeVisitsOlderThan deletes every visit with visit_at strictly before
// cutoff and returns how many were removed.
func (db *DB) PurgeVisitsOlderThan(cutoff time.Time) (int64, error) {
	res, err := db.db.Exec("DELETE FROM visits WHERE visit_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge visits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to determine rows affected: %w", err)
	}

	if affected > 0 {
		db.emit(VisitsPurgedEvent{Cutoff: cutoff, Removed: affected})
	}
	return affected, nil
}

// GetVisitsPage returns visits newest first using Before as an exclusive
// cursor. Visits sharing the boundary millisecond are never split across
// pages, so a page may hold more than Limit rows. NextBefore is set only when
// older visits remain.
func (db *DB) GetVisitsPage(q VisitsPageQuery) (VisitsPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultVisitsPageLimit
	}

	query := "SELECT visit_id, url, url_key, visit_at FROM visits"
	args := []any{}
	if !q.Before.IsZero() {
		query += " WHERE visit_at < ?"
		args = append(args, toMillis(q.Before))
	}
	query += " ORDER BY visit_at DESC, visit_id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := db.queryVisits(query, args...)
	if err != nil {
		return VisitsPage{}, err
	}

	page := VisitsPage{Rows: rows}
	if len(rows) <= limit {
		return page, nil
	}

	page.Rows = rows[:limit]
	last := page.Rows[limit-1]
	if rows[limit].VisitAt.Equal(last.VisitAt) {
		rest, err := db.queryVisits(
			"SELECT visit_id, url, url_key, visit_at FROM visits WHERE visit_at = ? AND visit_id < ? ORDER BY visit_id DESC",
			toMillis(last.VisitAt),
			last.VisitID,
		)
		if err != nil {
			return VisitsPage{}, err
		}
		page.Rows = append(page.Rows, rest...)

		var older int
		if err := db.db.QueryRow("SELECT COUNT(*) FROM visits WHERE visit_at < ?", toMillis(last.VisitAt)).Scan(&older); err != nil {
			return VisitsPage{}, fmt.Errorf("failed to count visits: %w", err)
		}
		if older == 0 {
			return page, nil
		}
	}
	page.NextBefore = last.VisitAt
	return page, nil
}

func (db *DB) queryVisits(query string, args ...any) ([]Visit, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	visits := []Visit{}
	for rows.Next() {
		var (
			v       Visit
			visitAt int64
		)
		if err := rows.Scan(&v.VisitID, &v.URL, &v.URLKey, &visitAt); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		v.VisitAt = fromMillis(visitAt)
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, nil
}
