package variations

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/model"
)

// Shopify reads the product JSON most themes embed in a script tag,
// either the data-product-json blob or the older ProductJson-<id>
// convention. Variant prices arrive in minor units.
type Shopify struct{}

type shopifyProduct struct {
	Variants []struct {
		ID                json.Number `json:"id"`
		Title             string      `json:"title"`
		Price             json.Number `json:"price"`
		SKU               string      `json:"sku"`
		Available         bool        `json:"available"`
		InventoryQuantity *int        `json:"inventory_quantity"`
		Option1           string      `json:"option1"`
		Option2           string      `json:"option2"`
	} `json:"variants"`
	Options []struct {
		Name string `json:"name"`
	} `json:"options"`
}

func (s *Shopify) Extract(_ context.Context, in Input) ([]model.VariationRecord, error) {
	if strings.TrimSpace(in.HTML) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		return nil, err
	}

	raw := findProductJSON(doc)
	if raw == "" {
		return nil, nil
	}

	var product shopifyProduct
	if err := json.Unmarshal([]byte(raw), &product); err != nil {
		// Some themes wrap the product under a "product" key.
		var wrapped struct {
			Product shopifyProduct `json:"product"`
		}
		if err2 := json.Unmarshal([]byte(raw), &wrapped); err2 != nil {
			return nil, err
		}
		product = wrapped.Product
	}

	vtype := "option"
	if len(product.Options) > 0 {
		vtype = optionType(product.Options[0].Name)
	}

	out := make([]model.VariationRecord, 0, len(product.Variants))
	for _, v := range product.Variants {
		rec := model.VariationRecord{
			Type:      vtype,
			Value:     v.Title,
			InStock:   v.Available,
			VariantID: v.ID.String(),
			SKU:       v.SKU,
			URL:       in.URL,
			Attributes: map[string]string{
				"option1": v.Option1,
			},
		}
		if v.Option2 != "" {
			rec.Attributes["option2"] = v.Option2
		}
		if cents, err := v.Price.Float64(); err == nil {
			price := cents / 100
			rec.Price = &price
		}
		if v.InventoryQuantity != nil {
			rec.Stock = v.InventoryQuantity
			rec.InStock = *v.InventoryQuantity > 0
		}
		out = append(out, rec)
	}
	return out, nil
}

func findProductJSON(doc *goquery.Document) string {
	if raw := strings.TrimSpace(doc.Find("script[data-product-json]").First().Text()); raw != "" {
		return raw
	}
	var found string
	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		if strings.HasPrefix(id, "ProductJson") {
			found = strings.TrimSpace(s.Text())
			return false
		}
		return true
	})
	return found
}
