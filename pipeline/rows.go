package pipeline

import (
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-products/models"
)

// Columns is the commerce-import header, in file order. Unpopulated columns
// stay blank on every row.
var Columns = []string{
	"Handle", "Title", "Body (HTML)", "Vendor", "Type", "Tags", "Published",
	"Option1 Name", "Option1 Value", "Option2 Name", "Option2 Value",
	"Option3 Name", "Option3 Value", "Variant SKU", "Variant Grams",
	"Variant Inventory Tracker", "Variant Inventory Qty",
	"Variant Inventory Policy", "Variant Fulfillment Service", "Variant Price",
	"Variant Compare At Price", "Variant Requires Shipping", "Variant Taxable",
	"Variant Barcode", "Image Src", "Image Position", "Image Alt Text",
	"Gift Card", "SEO Title", "SEO Description",
	"Google Shopping / Google Product Category", "Google Shopping / Gender",
	"Google Shopping / Age Group", "Google Shopping / MPN",
	"Google Shopping / AdWords Grouping", "Google Shopping / AdWords Labels",
	"Google Shopping / Condition", "Google Shopping / Custom Product",
	"Google Shopping / Custom Label 0", "Google Shopping / Custom Label 1",
	"Google Shopping / Custom Label 2", "Google Shopping / Custom Label 3",
	"Google Shopping / Custom Label 4", "Variant Image", "Variant Weight Unit",
	"Tax 1 Name", "Tax 1 Type", "Tax 1 Value", "Tax 2 Name", "Tax 2 Type",
	"Tax 2 Value", "Tax 3 Name", "Tax 3 Type", "Tax 3 Value", "Cost per item",
	"Product Category", "Cost Price",
}

var columnIndex = func() map[string]int {
	index := make(map[string]int, len(Columns))
	for i, name := range Columns {
		index[name] = i
	}
	return index
}()

type row []string

func newRow() row {
	return make(row, len(Columns))
}

func (r row) set(column, value string) {
	r[columnIndex[column]] = value
}

// BuildRows converts one item record into output rows: a primary row with the
// full metadata and the first image, plus one continuation row per remaining
// image. An item without a resolved variant price contributes no rows at all.
func BuildRows(p *models.Product, category, productType, variantPrice, costPrice string) [][]string {
	if variantPrice == "" {
		return nil
	}

	primary := newRow()
	primary.set("Handle", p.ASIN)
	primary.set("Title", p.Title)
	primary.set("Body (HTML)", BodyHTML(p))
	primary.set("Vendor", Vendor(p))
	primary.set("Type", productType)
	primary.set("Published", "TRUE")
	primary.set("Variant SKU", p.ASIN)
	primary.set("Variant Price", variantPrice)
	primary.set("Product Category", category)
	primary.set("Cost Price", costPrice)
	if img := p.MainImage(); img != "" {
		primary.set("Image Src", img)
		primary.set("Image Position", "1")
		primary.set("Image Alt Text", p.Title)
	}

	rows := [][]string{primary}
	for i, img := range p.Images {
		if i == 0 {
			continue
		}
		continuation := newRow()
		continuation.set("Handle", p.ASIN)
		continuation.set("Image Src", img)
		continuation.set("Image Position", strconv.Itoa(i+1))
		continuation.set("Image Alt Text", p.Title)
		rows = append(rows, continuation)
	}
	return rows
}

// Vendor resolves the vendor column: manufacturer, then the technical-details
// brand, then the marketplace default.
func Vendor(p *models.Product) string {
	if p.Manufacturer != "" {
		return p.Manufacturer
	}
	if brand := p.TechnicalDetails["Brand"]; brand != "" {
		return brand
	}
	return "Amazon"
}

// BodyHTML assembles the product body: description paragraph, bullet list,
// and a technical-details section, each omitted when its source is absent.
func BodyHTML(p *models.Product) string {
	var b strings.Builder

	if p.FullDescription != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p.FullDescription))
	}

	if len(p.Bullets) > 0 {
		b.WriteString("<ul>")
		for _, bullet := range p.Bullets {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(bullet))
		}
		b.WriteString("</ul>")
	}

	if len(p.TechnicalDetails) > 0 {
		keys := make([]string, 0, len(p.TechnicalDetails))
		for k := range p.TechnicalDetails {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("<h3>Technical Details</h3><ul>")
		for _, k := range keys {
			fmt.Fprintf(&b, "<li><strong>%s:</strong> %s</li>",
				html.EscapeString(k), html.EscapeString(p.TechnicalDetails[k]))
		}
		b.WriteString("</ul>")
	}

	return b.String()
}
