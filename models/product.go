// Package models defines data structures for the scraper.
package models

import "time"

// Product represents a single item record extracted from a product page.
// Every field except ASIN is best-effort: a missing field stays at its zero
// value and never blocks the item.
type Product struct {
	ASIN             string            `json:"asin"`
	Title            string            `json:"title"`
	PriceText        string            `json:"price"`
	RatingText       string            `json:"rating"`
	Bullets          []string          `json:"description_bullets"`
	FullDescription  string            `json:"full_description"`
	TechnicalDetails map[string]string `json:"technical_details"`
	Images           []string          `json:"images"`
	Manufacturer     string            `json:"manufacturer"`
	Unavailable      bool              `json:"unavailable"`
	ScrapedAt        time.Time         `json:"scraped_at"`
}

// MainImage returns the first extracted image URL, or "".
func (p *Product) MainImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// RunResult holds the overall result of a scraping run.
type RunResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Targeted     int
	Processed    int
	Succeeded    int
	NoPriceSkips int
	ErrorCount   int
	ErrorsByType map[string]int
	FailedASINs  []string
	RequestCount int
	OutputFile   string
	Checkpoint   string
}
