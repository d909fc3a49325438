package variations

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/model"
)

// WooCommerce reads the variations JSON that variable-product pages
// embed in the form's data-product_variations attribute.
type WooCommerce struct{}

type wooVariation struct {
	VariationID  json.Number       `json:"variation_id"`
	SKU          string            `json:"sku"`
	DisplayPrice float64           `json:"display_price"`
	IsInStock    bool              `json:"is_in_stock"`
	MaxQty       json.Number       `json:"max_qty"`
	Attributes   map[string]string `json:"attributes"`
}

func (w *WooCommerce) Extract(_ context.Context, in Input) ([]model.VariationRecord, error) {
	if strings.TrimSpace(in.HTML) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		return nil, err
	}

	raw, ok := doc.Find("form.variations_form").First().Attr("data-product_variations")
	if !ok || raw == "" || raw == "false" {
		return nil, nil
	}

	var parsed []wooVariation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("woocommerce variations json: %w", err)
	}

	out := make([]model.VariationRecord, 0, len(parsed))
	for _, wv := range parsed {
		vtype, value := wooAttribute(wv.Attributes)
		price := wv.DisplayPrice

		v := model.VariationRecord{
			Type:       vtype,
			Value:      value,
			Price:      &price,
			InStock:    wv.IsInStock,
			VariantID:  wv.VariationID.String(),
			SKU:        wv.SKU,
			URL:        in.URL,
			Attributes: wv.Attributes,
		}
		if qty, err := strconv.Atoi(wv.MaxQty.String()); err == nil && qty >= 0 {
			v.Stock = &qty
		}
		out = append(out, v)
	}
	return out, nil
}

// wooAttribute picks the primary attribute pair out of the attribute
// map; woo prefixes them all with "attribute_".
func wooAttribute(attrs map[string]string) (vtype, value string) {
	for k, v := range attrs {
		name := strings.TrimPrefix(k, "attribute_")
		name = strings.TrimPrefix(name, "pa_")
		if value == "" || strings.Contains(name, "size") {
			vtype, value = optionType(name), v
		}
	}
	if vtype == "" {
		vtype = "option"
	}
	return vtype, value
}
