package store

import (
	"context"
	"errors"
	"testing"

	"pricewatch/internal/model"
)

func TestMemory_InsertProductAndVariations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	name := "Widget"
	id, err := m.InsertProduct(ctx, &model.ProductRecord{URL: "https://shop.example/p/1", Name: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a nonzero id")
	}

	ids, err := m.InsertVariations(ctx, id, []model.VariationRecord{
		{Type: "size", Value: "41"},
		{Type: "size", Value: "42"},
	}, "shop.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 variation ids, got %v", ids)
	}
	if len(m.Variations[id]) != 2 {
		t.Fatalf("expected variations stored under product id")
	}
}

func TestMemory_FailWithYieldsPersistError(t *testing.T) {
	m := NewMemory()
	m.FailWith = errors.New("disk full")

	_, err := m.InsertProduct(context.Background(), &model.ProductRecord{URL: "u"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var persistErr *PersistError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected *PersistError, got %T", err)
	}
}
