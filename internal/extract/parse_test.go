package extract

import "testing"

func TestParsePrice_RussianFormat(t *testing.T) {
	p := ParsePrice("1 299,00 ₽")
	if p == nil {
		t.Fatalf("expected price for \"1 299,00 ₽\", got nil")
	}
	if *p != 1299.00 {
		t.Fatalf("expected 1299.00, got %v", *p)
	}
}

func TestParsePrice_Variants(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"$12.99", 12.99},
		{"1,299.50", 1299.50},
		{"1.299,50 €", 1299.50},
		{"2 499 руб.", 2499},
		{"1,299", 1299},
		{"2,5", 2.5},
		{"999", 999},
	}
	for _, c := range cases {
		p := ParsePrice(c.in)
		if p == nil {
			t.Fatalf("ParsePrice(%q) = nil, want %v", c.in, c.want)
		}
		if *p != c.want {
			t.Fatalf("ParsePrice(%q) = %v, want %v", c.in, *p, c.want)
		}
	}
}

func TestParsePrice_Unparseable(t *testing.T) {
	for _, in := range []string{"", "call for price", "—", "   "} {
		if p := ParsePrice(in); p != nil {
			t.Fatalf("ParsePrice(%q) = %v, want nil", in, *p)
		}
	}
}

func TestParseStockQuantity_RussianCount(t *testing.T) {
	qty, ok := ParseStockQuantity("В наличии: 7 шт.")
	if !ok {
		t.Fatalf("expected stock text to parse")
	}
	if qty == nil || *qty != 7 {
		t.Fatalf("expected quantity 7, got %v", qty)
	}
}

func TestParseStockQuantity_OutOfStock(t *testing.T) {
	qty, ok := ParseStockQuantity("Нет в наличии")
	if !ok || qty == nil || *qty != 0 {
		t.Fatalf("expected explicit zero for out-of-stock text, got %v ok=%v", qty, ok)
	}

	qty, ok = ParseStockQuantity("Out of stock")
	if !ok || qty == nil || *qty != 0 {
		t.Fatalf("expected explicit zero for english out-of-stock, got %v ok=%v", qty, ok)
	}
}

func TestParseStockQuantity_InStockWithoutCount(t *testing.T) {
	qty, ok := ParseStockQuantity("In stock")
	if !ok {
		t.Fatalf("expected availability phrasing to be recognized")
	}
	if qty != nil {
		t.Fatalf("expected unknown count, got %v", *qty)
	}
}

func TestParseStockQuantity_Unrecognized(t *testing.T) {
	if _, ok := ParseStockQuantity("добавить в корзину"); ok {
		t.Fatalf("expected unrecognizable text to fail")
	}
}

func TestStockLabel(t *testing.T) {
	if got := StockLabel("В наличии: 7 шт."); got != "in_stock" {
		t.Fatalf("expected in_stock, got %q", got)
	}
	if got := StockLabel("sold out"); got != "out_of_stock" {
		t.Fatalf("expected out_of_stock, got %q", got)
	}
	if got := StockLabel("случайный текст"); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
