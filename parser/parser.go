// Package parser turns fetched product-page markup into item records.
//
// Product pages come in many layout variants, so every fragile field is
// extracted by an ordered list of independent strategies: each strategy is
// pure, the first non-empty result wins, and a field with no winning strategy
// simply stays empty. Extraction never fails an item.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-products/models"
)

// ExtractError indicates the document was too malformed to parse at all.
// The caller still receives a record carrying the identifier.
type ExtractError struct {
	ASIN string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.ASIN, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// priceStrategy returns the raw price text for a page, or "" when the
// strategy does not apply.
type priceStrategy func(doc *goquery.Document, raw string) string

// Selectors for the known price layout variants, in priority order.
var priceSelectors = []string{
	".apexPriceToPay .a-offscreen",
	"#corePriceDisplay_desktop_feature_div .a-offscreen",
	"#corePrice_feature_div .a-offscreen",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	"#priceblock_saleprice",
	"#price_inside_buybox",
	".a-price .a-offscreen",
	".reinventPricePriceToPayMargin .a-offscreen",
	"span[data-a-color='base'] .a-offscreen",
	"#newBuyBoxPrice",
}

var (
	jsonPriceRe   = regexp.MustCompile(`"priceAmount"\s*:\s*"(\d+\.\d+)"`)
	nonPriceRe    = regexp.MustCompile(`[^\d.]`)
	containsDigit = regexp.MustCompile(`\d`)
)

var priceStrategies = buildPriceStrategies()

func buildPriceStrategies() []priceStrategy {
	strategies := make([]priceStrategy, 0, len(priceSelectors)+1)
	for _, sel := range priceSelectors {
		sel := sel
		strategies = append(strategies, func(doc *goquery.Document, _ string) string {
			text := strings.TrimSpace(doc.Find(sel).First().Text())
			if text != "" && containsDigit.MatchString(text) {
				return text
			}
			return ""
		})
	}
	// Some layouts only carry the price inside an embedded JSON blob.
	strategies = append(strategies, func(_ *goquery.Document, raw string) string {
		if m := jsonPriceRe.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
		return ""
	})
	return strategies
}

// Parse extracts an item record from raw markup. The returned record always
// carries the identifier; all other fields are best-effort.
func Parse(asin, raw string) (*models.Product, error) {
	product := &models.Product{
		ASIN:             asin,
		TechnicalDetails: map[string]string{},
		ScrapedAt:        time.Now(),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return product, &ExtractError{ASIN: asin, Err: err}
	}

	product.Title = text(doc, "#productTitle")
	product.RatingText = text(doc, "span.a-icon-alt")
	product.FullDescription = text(doc, "#productDescription")
	product.PriceText = extractPrice(doc, raw)
	product.Images = extractImages(doc)
	product.Manufacturer = extractManufacturer(doc)
	product.Bullets = extractBullets(doc)
	product.TechnicalDetails = extractTechnicalDetails(doc)
	product.Unavailable = product.PriceText == "" && strings.Contains(raw, "Currently unavailable")

	return product, nil
}

// CleanPrice reduces raw price text to digits and dots.
func CleanPrice(raw string) string {
	return nonPriceRe.ReplaceAllString(raw, "")
}

func text(doc *goquery.Document, sel string) string {
	return strings.TrimSpace(doc.Find(sel).First().Text())
}

func extractPrice(doc *goquery.Document, raw string) string {
	for _, strategy := range priceStrategies {
		if price := strategy(doc, raw); price != "" {
			return price
		}
	}
	return ""
}

func extractBullets(doc *goquery.Document) []string {
	var bullets []string
	doc.Find("#feature-bullets ul li").Each(func(_ int, li *goquery.Selection) {
		if t := strings.TrimSpace(li.Text()); t != "" {
			bullets = append(bullets, t)
		}
	})
	return bullets
}

func extractTechnicalDetails(doc *goquery.Document) map[string]string {
	details := map[string]string{}
	doc.Find("#productDetails_techSpec_section_1 tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		value := strings.TrimSpace(row.Find("td").First().Text())
		if key != "" && value != "" {
			details[key] = value
		}
	})
	return details
}

var manufacturerKeywords = []string{"Manufacturer", "Brand", "Manufactured by"}

func extractManufacturer(doc *goquery.Document) string {
	if m := text(doc, "tr.po-manufacturer .po-break-word"); m != "" {
		return m
	}
	if m := text(doc, "tr.po-brand .po-break-word"); m != "" {
		return m
	}

	// The detail bullet list mixes many facts; take the trailing span of the
	// first line that mentions a manufacturer keyword.
	manufacturer := ""
	doc.Find("ul.detail-bullet-list li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		lineText := li.Text()
		for _, kw := range manufacturerKeywords {
			if strings.Contains(lineText, kw) {
				spans := li.Find("span")
				if spans.Length() > 0 {
					manufacturer = strings.TrimSpace(spans.Eq(spans.Length() - 1).Text())
				}
				break
			}
		}
		return manufacturer == ""
	})
	return manufacturer
}

// normalizeImageURL strips the size-variant suffix and forces the canonical
// extension, so every variant of one image collapses to the same URL.
func normalizeImageURL(url string) string {
	if i := strings.Index(url, "._"); i >= 0 {
		url = url[:i]
	}
	return strings.TrimSuffix(url, ".jpg") + ".jpg"
}

var galleryImageAttrs = []string{
	"src", "data-src", "data-thumb", "data-zoom-image", "data-a-image-name", "data-a-dynamic-image",
}

func extractImages(doc *goquery.Document) []string {
	seen := map[string]struct{}{}
	var images []string
	add := func(url string) {
		url = normalizeImageURL(url)
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		images = append(images, url)
	}

	landing := doc.Find("img#landingImage").First()
	landingSrc, _ := landing.Attr("src")
	if src := strings.TrimSpace(landingSrc); src != "" {
		add(src)
	}

	// The landing image carries a JSON map of its size variants; the keys are
	// the URLs.
	if dynamic, ok := landing.Attr("data-a-dynamic-image"); ok {
		var variants map[string]json.RawMessage
		if err := json.Unmarshal([]byte(dynamic), &variants); err == nil {
			keys := make([]string, 0, len(variants))
			for url := range variants {
				keys = append(keys, url)
			}
			// Map order is random; keep the output stable.
			sort.Strings(keys)
			for _, url := range keys {
				add(url)
			}
		}
	}

	// Gallery thumbnails include recommended-product noise. A candidate must
	// be https and share the landing image's URL-prefix fingerprint.
	fingerprint := ""
	if base := normalizeBase(landingSrc); len(base) >= 20 {
		fingerprint = base[:20]
	}
	doc.Find("#altImages .a-button-thumbnail img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range galleryImageAttrs {
			url, ok := img.Attr(attr)
			if !ok || url == "" {
				continue
			}
			if !strings.Contains(url, "https") {
				continue
			}
			if fingerprint != "" && !strings.Contains(url, fingerprint) {
				continue
			}
			add(url)
		}
	})

	return images
}

func normalizeBase(url string) string {
	if i := strings.Index(url, "._"); i >= 0 {
		return url[:i]
	}
	return url
}
