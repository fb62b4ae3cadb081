package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CatalogEntry is the reference data of one offer. Priority is always set
// here explicitly and never derived from the offer name.
type CatalogEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Supplier string `json:"supplier,omitempty"`
}

// OfferCatalog is a collection of offers for one dataset.
type OfferCatalog struct {
	Dataset   string         `json:"dataset"`
	UpdatedAt string         `json:"updated_at"` // ISO 8601 timestamp
	Offers    []CatalogEntry `json:"offers"`
}

// LoadCatalog loads an offer catalog from a JSON file
func LoadCatalog(filePath string) (*OfferCatalog, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var c OfferCatalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	seen := make(map[string]bool, len(c.Offers))
	for _, e := range c.Offers {
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry with empty id")
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate catalog entry %q", e.ID)
		}
		seen[e.ID] = true
	}
	return &c, nil
}

// SaveCatalog saves the catalog to a JSON file, entries sorted by id.
func SaveCatalog(c *OfferCatalog, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	sort.Slice(c.Offers, func(i, j int) bool { return c.Offers[i].ID < c.Offers[j].ID })
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := os.WriteFile(filePath, raw, 0644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}

	return nil
}

// MergeCatalog keeps the priorities already present in seed and appends
// offers seen only in fetched. New offers get a priority after every seeded
// one so they never win ties against curated entries.
func MergeCatalog(seed []CatalogEntry, fetched []OfferRecord) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(seed)+len(fetched))
	known := make(map[string]bool, len(seed))
	maxPriority := 0
	for _, e := range seed {
		out = append(out, e)
		known[e.ID] = true
		if e.Priority > maxPriority {
			maxPriority = e.Priority
		}
	}
	next := maxPriority + 1
	for _, o := range fetched {
		if known[o.ID] {
			continue
		}
		known[o.ID] = true
		p := o.Priority
		if p <= maxPriority {
			p = next
			next++
		}
		out = append(out, CatalogEntry{ID: o.ID, Name: o.Name, Priority: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetDefaultCatalogPath returns the default path for the offer catalog
func GetDefaultCatalogPath() string {
	if path := os.Getenv("OFFER_CATALOG_FILE"); path != "" {
		return path
	}
	return "./data/offers.json"
}
