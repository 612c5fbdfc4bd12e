package domain

import (
	"sort"
	"strings"
)

// NormalizeQuery trims the query text and cleans the vendor scope: blank ids are
// dropped, duplicates removed, and the remainder sorted so equal scopes compare equal.
// An empty query after trimming is rejected, and so is a vendor scope whose
// ids are all blank: it must not widen into an unscoped search.
func NormalizeQuery(q Query) (Query, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Query{}, NewValidationError("query", q.Text, ErrEmptyQuery)
	}
	vendors := NormalizeVendorIDs(q.VendorIDs)
	if len(q.VendorIDs) > 0 && len(vendors) == 0 {
		return Query{}, NewValidationError("vendor_ids", strings.Join(q.VendorIDs, ","), ErrBlankVendors)
	}
	return Query{Text: text, VendorIDs: vendors}, nil
}

// NormalizeVendorIDs trims, deduplicates and sorts vendor identifiers.
func NormalizeVendorIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
