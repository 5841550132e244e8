package retrieval

import (
	"fmt"
	"time"

	"github.com/lanternhq/lantern/internal/models"
)

// FilterError marks malformed caller-supplied filters. The boundary maps it
// to an invalid-argument response rather than a server error.
type FilterError struct {
	Field string
	Err   error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid filter %s: %v", e.Field, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// dateLayouts are tried in order when parsing chunk metadata dates and
// filter bounds. Metadata commonly carries either a full timestamp or a
// bare date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ApplyFilters runs the caller's post-filters over the fused list in order:
// document ids, document types, then the date range. Filtering is stable.
// Hits without a parsable metadata date pass date filters untouched.
func ApplyFilters(hits []models.FusedHit, filters *models.SearchFilters) ([]models.FusedHit, error) {
	if filters == nil {
		return hits, nil
	}

	out := hits

	if len(filters.DocumentIDs) > 0 {
		allowed := make(map[string]struct{}, len(filters.DocumentIDs))
		for _, id := range filters.DocumentIDs {
			allowed[id] = struct{}{}
		}
		out = keep(out, func(h models.FusedHit) bool {
			_, ok := allowed[h.DocumentID]
			return ok
		})
	}

	if len(filters.DocumentTypes) > 0 {
		allowed := make(map[string]struct{}, len(filters.DocumentTypes))
		for _, t := range filters.DocumentTypes {
			allowed[t] = struct{}{}
		}
		out = keep(out, func(h models.FusedHit) bool {
			if h.DocumentType == "" {
				return true
			}
			_, ok := allowed[h.DocumentType]
			return ok
		})
	}

	if filters.DateRange != nil {
		var err error
		out, err = applyDateRange(out, filters.DateRange)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func applyDateRange(hits []models.FusedHit, dr *models.DateRange) ([]models.FusedHit, error) {
	var start, end time.Time
	if dr.Start != "" {
		t, err := parseDate(dr.Start)
		if err != nil {
			return nil, &FilterError{Field: "dateRange.start", Err: err}
		}
		start = t
	}
	if dr.End != "" {
		t, err := parseDate(dr.End)
		if err != nil {
			return nil, &FilterError{Field: "dateRange.end", Err: err}
		}
		end = t
	}
	if dr.Start == "" && dr.End == "" {
		return hits, nil
	}

	return keep(hits, func(h models.FusedHit) bool {
		t, ok := chunkDate(h)
		if !ok {
			return true
		}
		if !start.IsZero() && t.Before(start) {
			return false
		}
		if !end.IsZero() && t.After(end) {
			return false
		}
		return true
	}), nil
}

// chunkDate extracts a date from chunk metadata, preferring created_at.
func chunkDate(h models.FusedHit) (time.Time, bool) {
	for _, key := range []string{"created_at", "date"} {
		s, ok := h.Metadata[key].(string)
		if !ok || s == "" {
			continue
		}
		if t, err := parseDate(s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func keep(hits []models.FusedHit, pred func(models.FusedHit) bool) []models.FusedHit {
	out := make([]models.FusedHit, 0, len(hits))
	for _, h := range hits {
		if pred(h) {
			out = append(out, h)
		}
	}
	return out
}
