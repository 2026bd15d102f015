package web

import "github.com/seckatie/pagetrail/internal/core/db"

type errorView struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type visitsPageView struct {
	Rows []db.Visit `json:"rows"`
	// NextBefore is the cursor for the next page in Unix milliseconds, zero
	// on the last page.
	NextBefore int64 `json:"nextBefore"`
}

type versionsView struct {
	URL      string           `json:"url"`
	Versions []db.PageVersion `json:"versions"`
}
