package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceJunk   = regexp.MustCompile(`[^\d.,]`)
	digitGroups = regexp.MustCompile(`\d+`)
)

// ParsePrice cleans a storefront price string and returns its numeric
// value. It tolerates currency symbols, thin/non-breaking spaces used
// as thousands separators, and both comma and dot decimal marks, so
// "1 299,00 ₽" comes back as 1299.00. Returns nil when nothing
// parseable remains.
func ParsePrice(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = priceJunk.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The later mark is the decimal separator, the other one
		// groups thousands.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 3 && lastComma > 0 {
			// 1,299 style thousands grouping.
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
			if strings.Count(s, ".") > 1 {
				first := strings.Index(s, ".")
				s = s[:first] + strings.ReplaceAll(s[first:], ".", "")
			}
		}
	case strings.Count(s, ".") > 1:
		// Dots as thousands separators: keep only the last as decimal.
		last := strings.LastIndex(s, ".")
		s = strings.ReplaceAll(s[:last], ".", "") + s[last:]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

var outOfStockPhrases = []string{
	"нет в наличии", "не в наличии", "распродан", "закончил",
	"под заказ", "ожидается",
	"out of stock", "sold out", "unavailable", "notify me",
}

var inStockPhrases = []string{
	"в наличии", "есть в наличии", "in stock", "available", "ships",
	"на складе",
}

// ParseStockQuantity extracts an integer quantity from availability
// text like "В наличии: 7 шт.". Explicit out-of-stock phrasings parse
// to 0; availability phrasing without a number returns nil with ok
// true, meaning "in stock, unknown count". Unrecognizable text returns
// (nil, false).
func ParseStockQuantity(raw string) (qty *int, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil, false
	}

	for _, p := range outOfStockPhrases {
		if strings.Contains(s, p) {
			zero := 0
			return &zero, true
		}
	}

	if m := digitGroups.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return &n, true
		}
	}

	for _, p := range inStockPhrases {
		if strings.Contains(s, p) {
			return nil, true
		}
	}

	return nil, false
}

// StockLabel normalizes availability text into the stored stock label.
func StockLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range outOfStockPhrases {
		if strings.Contains(s, p) {
			return "out_of_stock"
		}
	}
	for _, p := range inStockPhrases {
		if strings.Contains(s, p) {
			return "in_stock"
		}
	}
	if m := digitGroups.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return "in_stock"
		}
		return "out_of_stock"
	}
	return "unknown"
}
