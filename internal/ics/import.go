package ics

import (
	"context"
	"time"

	"github.com/jmhodges/clock"

	appLog "spacecal/internal/log"
	"spacecal/internal/model"
	"spacecal/internal/store"
)

// ImportResult summarizes one import run.
type ImportResult struct {
	Parsed  int `json:"parsed"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (r *ImportResult) add(o ImportResult) {
	r.Parsed += o.Parsed
	r.Created += o.Created
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Importer turns ICS occurrences of the current month into events.
type Importer struct {
	store   store.Store
	ledger  store.ImportLedger // nil when st keeps no ledger
	fetcher *Fetcher
	loc     *time.Location
	clk     clock.Clock
}

// NewImporter creates an Importer. loc decides the current month.
func NewImporter(st store.Store, fetcher *Fetcher, loc *time.Location, clk clock.Clock) *Importer {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.New()
	}
	im := &Importer{store: st, fetcher: fetcher, loc: loc, clk: clk}
	im.ledger, _ = st.(store.ImportLedger)
	return im
}

// ledgerKey names an occurrence across refreshes: the feed UID and the
// occurrence date.
func ledgerKey(occ Occurrence) string {
	return occ.UID + "|" + occ.Date()
}

// eventKey identifies an event for de-duplication across imports.
type eventKey struct {
	text, date, alarm string
}

func keyOf(text, date, alarm string) eventKey {
	return eventKey{text: text, date: date, alarm: alarm}
}

// ImportBody creates the occurrences of body that userID does not already
// have in existing and has never imported before. An imported event the
// user deleted stays deleted. Per-event store failures are counted, not
// fatal.
func (im *Importer) ImportBody(ctx context.Context, userID string, existing []model.Event, src Source, body []byte) (ImportResult, error) {
	var res ImportResult

	parsed, err := ParseICS(src, body)
	if err != nil {
		return res, err
	}
	occs, err := ExpandMonth(parsed, MonthOf(im.clk.Now().In(im.loc)))
	if err != nil {
		return res, err
	}
	res.Parsed = len(occs)

	seen := make(map[eventKey]bool, len(existing))
	for _, ev := range existing {
		seen[keyOf(ev.Text, ev.Date, ev.AlarmTime)] = true
	}

	for _, occ := range occs {
		ne := occ.NewEvent(userID)
		lk := ledgerKey(occ)
		done, err := im.imported(ctx, userID, lk)
		if err != nil {
			appLog.Error("ics import ledger read failed", err, "user", userID, "uid", occ.UID, "date", ne.Date)
			res.Failed++
			continue
		}
		k := keyOf(ne.Text, ne.Date, ne.AlarmTime)
		if done || seen[k] {
			res.Skipped++
			if !done {
				im.markImported(ctx, userID, lk)
			}
			continue
		}
		if _, err := im.store.Create(ctx, ne); err != nil {
			appLog.Error("ics import create failed", err, "user", userID, "uid", occ.UID, "date", ne.Date)
			res.Failed++
			continue
		}
		im.markImported(ctx, userID, lk)
		seen[k] = true
		res.Created++
	}

	appLog.Info("ics import finished",
		"user", userID,
		"source", src.ID,
		"parsed", res.Parsed,
		"created", res.Created,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

func (im *Importer) imported(ctx context.Context, userID, key string) (bool, error) {
	if im.ledger == nil {
		return false, nil
	}
	return im.ledger.Imported(ctx, userID, key)
}

func (im *Importer) markImported(ctx context.Context, userID, key string) {
	if im.ledger == nil {
		return
	}
	if err := im.ledger.MarkImported(ctx, userID, key); err != nil {
		appLog.Error("ics import ledger write failed", err, "user", userID, "key", key)
	}
}

// ImportSources fetches every source and imports it for userID. The
// snapshot is re-read between sources so feeds do not duplicate each
// other.
func (im *Importer) ImportSources(ctx context.Context, userID string, sources []Source) (ImportResult, []error) {
	var total ImportResult
	results, errs := im.fetcher.FetchAll(ctx, sources)
	for _, fr := range results {
		existing, err := store.Snapshot(ctx, im.store, userID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := im.ImportBody(ctx, userID, existing, fr.Source, fr.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total.add(res)
	}
	return total, errs
}
