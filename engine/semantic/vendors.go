package semantic

import (
	"context"
	"fmt"
	"sort"
)

// DefaultScrollPage is the page size used when enumerating stored points.
const DefaultScrollPage = 200

// DistinctVendors walks every stored point and returns the sorted set of
// vendor ids. Unlike a single bounded scroll it follows pages to the end.
func DistinctVendors(ctx context.Context, store Store, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = DefaultScrollPage
	}
	seen := make(map[string]bool)
	offset := ""
	for {
		page, err := store.Scroll(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("semantic: list vendors: %w", err)
		}
		for _, p := range page.Points {
			if p.Payload.VendorID != "" {
				seen[p.Payload.VendorID] = true
			}
		}
		if page.Next == "" || page.Next == offset {
			break
		}
		offset = page.Next
	}
	vendors := make([]string, 0, len(seen))
	for v := range seen {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	return vendors, nil
}
