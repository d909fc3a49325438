package variations

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/extract"
	"pricewatch/internal/model"
)

// Generic handles the DOM patterns shared by most storefront themes:
// option dropdowns, variant radio groups, and elements carrying
// data-variant attributes.
type Generic struct{}

func (g *Generic) Extract(_ context.Context, in Input) ([]model.VariationRecord, error) {
	if strings.TrimSpace(in.HTML) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		return nil, err
	}

	var out []model.VariationRecord
	out = append(out, g.fromSelects(doc, in.URL)...)
	out = append(out, g.fromRadios(doc, in.URL)...)
	out = append(out, g.fromDataAttrs(doc, in.URL)...)
	return out, nil
}

// fromSelects reads <select> option lists whose name suggests a
// product option.
func (g *Generic) fromSelects(doc *goquery.Document, url string) []model.VariationRecord {
	var out []model.VariationRecord

	doc.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "option") && !strings.Contains(lower, "variant") &&
			!strings.Contains(lower, "size") && !strings.Contains(lower, "color") &&
			!strings.Contains(lower, "attribute") {
			return
		}
		vtype := optionType(name)

		sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
			value := strings.TrimSpace(opt.Text())
			id, _ := opt.Attr("value")
			if value == "" || id == "" || strings.EqualFold(value, "choose an option") {
				return
			}

			v := model.VariationRecord{
				Type:      vtype,
				Value:     value,
				VariantID: id,
				URL:       url,
				InStock:   !opt.HasClass("disabled"),
				Attributes: map[string]string{
					"source": "select",
				},
			}
			if raw, ok := opt.Attr("data-price"); ok {
				v.Price = extract.ParsePrice(raw)
			} else if p := extract.ParsePrice(value); p != nil && strings.ContainsAny(value, "₽$€") {
				v.Price = p
			}
			if raw, ok := opt.Attr("data-stock"); ok {
				if qty, parsed := extract.ParseStockQuantity(raw); parsed && qty != nil {
					v.Stock = qty
					v.InStock = *qty > 0
				}
			}
			out = append(out, v)
		})
	})

	return out
}

func (g *Generic) fromRadios(doc *goquery.Document, url string) []model.VariationRecord {
	var out []model.VariationRecord

	doc.Find(`input[type="radio"]`).Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "option") && !strings.Contains(lower, "variant") &&
			!strings.Contains(lower, "size") && !strings.Contains(lower, "color") {
			return
		}

		value, _ := input.Attr("value")
		if value == "" {
			return
		}
		label := value
		if id, ok := input.Attr("id"); ok {
			if l := strings.TrimSpace(doc.Find(`label[for="` + id + `"]`).Text()); l != "" {
				label = l
			}
		}

		_, disabled := input.Attr("disabled")
		out = append(out, model.VariationRecord{
			Type:       optionType(name),
			Value:      label,
			VariantID:  value,
			URL:        url,
			InStock:    !disabled,
			Attributes: map[string]string{"source": "radio"},
		})
	})

	return out
}

func (g *Generic) fromDataAttrs(doc *goquery.Document, url string) []model.VariationRecord {
	var out []model.VariationRecord

	doc.Find("[data-variant-id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-variant-id")
		value := strings.TrimSpace(s.Text())
		if id == "" || value == "" {
			return
		}

		v := model.VariationRecord{
			Type:       "variant",
			Value:      value,
			VariantID:  id,
			URL:        url,
			InStock:    true,
			Attributes: map[string]string{"source": "data-attr"},
		}
		if raw, ok := s.Attr("data-price"); ok {
			v.Price = extract.ParsePrice(raw)
		}
		if sku, ok := s.Attr("data-sku"); ok {
			v.SKU = sku
		}
		out = append(out, v)
	})

	return out
}

// optionType normalizes an input/select name into a variation type.
func optionType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "size"), strings.Contains(lower, "razmer"):
		return "size"
	case strings.Contains(lower, "color"), strings.Contains(lower, "colour"), strings.Contains(lower, "cvet"):
		return "color"
	default:
		return "option"
	}
}
