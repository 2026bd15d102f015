package db

import (
	"fmt"
	"testing"
	"time"
)

// TestAppendVisit tests that visits are append-only records.
func TestAppendVisit(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	at := time.UnixMilli(1_700_000_000_000)
	if err := db.AppendVisit(testVisit("a", "https://example.com/", at)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := db.AppendVisit(testVisit("b", "https://example.com/", at)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := db.AppendVisit(testVisit("a", "https://example.com/", at)); err == nil {
		t.Error("expected duplicate visit id to fail")
	}
	if err := db.AppendVisit(Visit{URL: "https://example.com/"}); err == nil {
		t.Error("expected missing visit id to fail")
	}

	page, _ := db.GetVisitsPage(VisitsPageQuery{})
	if len(page.Rows) != 2 {
		t.Errorf("expected 2 visits, got %d", len(page.Rows))
	}
}

// TestPurgeVisitsOlderThan tests the exclusive cutoff.
func TestPurgeVisitsOlderThan(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	cutoff := time.UnixMilli(1_700_000_000_000)
	db.AppendVisit(testVisit("before", "https://example.com/1", cutoff.Add(-time.Millisecond)))
	db.AppendVisit(testVisit("at", "https://example.com/2", cutoff))
	db.AppendVisit(testVisit("after", "https://example.com/3", cutoff.Add(time.Millisecond)))

	removed, err := db.PurgeVisitsOlderThan(cutoff)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed visit, got %d", removed)
	}

	page, _ := db.GetVisitsPage(VisitsPageQuery{})
	got := map[string]bool{}
	for _, v := range page.Rows {
		got[v.VisitID] = true
	}
	if got["before"] {
		t.Error("expected visit before cutoff to be purged")
	}
	if !got["at"] {
		t.Error("expected visit exactly at cutoff to be retained")
	}
	if !got["after"] {
		t.Error("expected visit after cutoff to be retained")
	}
}

// TestGetVisitsPage tests cursor pagination.
func TestGetVisitsPage(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		db.AppendVisit(testVisit(fmt.Sprintf("v%d", i), "https://example.com/", base.Add(time.Duration(i)*time.Second)))
	}

	t.Run("first page starts from newest", func(t *testing.T) {
		page, err := db.GetVisitsPage(VisitsPageQuery{Limit: 2})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(page.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(page.Rows))
		}
		if page.Rows[0].VisitID != "v4" || page.Rows[1].VisitID != "v3" {
			t.Errorf("expected v4, v3; got %s, %s", page.Rows[0].VisitID, page.Rows[1].VisitID)
		}
		if !page.NextBefore.Equal(page.Rows[1].VisitAt) {
			t.Errorf("expected NextBefore %v, got %v", page.Rows[1].VisitAt, page.NextBefore)
		}
	})

	t.Run("walks all pages", func(t *testing.T) {
		var (
			ids    []string
			before time.Time
		)
		for {
			page, err := db.GetVisitsPage(VisitsPageQuery{Limit: 2, Before: before})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			for _, v := range page.Rows {
				ids = append(ids, v.VisitID)
			}
			if page.NextBefore.IsZero() {
				break
			}
			before = page.NextBefore
		}

		want := []string{"v4", "v3", "v2", "v1", "v0"}
		if fmt.Sprint(ids) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, ids)
		}
	})

	t.Run("before is exclusive", func(t *testing.T) {
		page, _ := db.GetVisitsPage(VisitsPageQuery{Before: base.Add(2 * time.Second)})
		if len(page.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(page.Rows))
		}
		if page.Rows[0].VisitID != "v1" {
			t.Errorf("expected v1 first, got %s", page.Rows[0].VisitID)
		}
		if !page.NextBefore.IsZero() {
			t.Errorf("expected no next cursor on a short page, got %v", page.NextBefore)
		}
	})
}

// TestGetVisitsPageSameMillisecond tests that visits sharing a timestamp are
// never lost at a page boundary.
func TestGetVisitsPageSameMillisecond(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	base := time.UnixMilli(1_700_000_000_000)
	db.AppendVisit(testVisit("old", "https://example.com/old", base.Add(-time.Second)))
	for _, id := range []string{"a", "b", "c"} {
		db.AppendVisit(testVisit(id, "https://example.com/"+id, base))
	}

	page, err := db.GetVisitsPage(VisitsPageQuery{Limit: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var ids []string
	for _, v := range page.Rows {
		ids = append(ids, v.VisitID)
	}
	if fmt.Sprint(ids) != fmt.Sprint([]string{"c", "b", "a"}) {
		t.Errorf("expected the whole millisecond on one page, got %v", ids)
	}
	if !page.NextBefore.Equal(base) {
		t.Fatalf("expected NextBefore %v, got %v", base, page.NextBefore)
	}

	next, err := db.GetVisitsPage(VisitsPageQuery{Limit: 2, Before: page.NextBefore})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(next.Rows) != 1 || next.Rows[0].VisitID != "old" {
		t.Errorf("expected only the older visit, got %+v", next.Rows)
	}
	if !next.NextBefore.IsZero() {
		t.Errorf("expected no further cursor, got %v", next.NextBefore)
	}

	t.Run("tie on the last page", func(t *testing.T) {
		page, _ := db.GetVisitsPage(VisitsPageQuery{Limit: 1, Before: base.Add(time.Millisecond)})
		if len(page.Rows) != 3 {
			t.Errorf("expected 3 rows, got %d", len(page.Rows))
		}
		if !page.NextBefore.Equal(base) {
			t.Errorf("expected NextBefore %v, got %v", base, page.NextBefore)
		}
	})
}
