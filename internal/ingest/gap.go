package ingest

import (
	"time"

	"marketsync/internal/util"
)

// BackfillWindow is a closed date interval [From, To] of missing trading
// days to fetch for a symbol.
type BackfillWindow struct {
	From time.Time
	To   time.Time
}

// AnalyzeGap decides whether a symbol needs a backfill and computes its
// window. latest is the symbol's most recent stored date (zero when the
// symbol has no rows); today must be midnight UTC.
//
// A zero latest date skips backfill: cold-start loading is a distinct,
// explicitly invoked operation, not part of the daily gap-fill path. A gap
// of one day or less also skips — yesterday's close may simply not be
// posted yet, and the current-day phase covers today.
func AnalyzeGap(latest, today time.Time) *BackfillWindow {
	if latest.IsZero() {
		return nil
	}

	gapDays := util.DaysBetween(latest, today)
	if gapDays <= 1 {
		return nil
	}

	return &BackfillWindow{
		From: latest.AddDate(0, 0, 1),
		To:   today,
	}
}
