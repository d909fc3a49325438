package store

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"pricewatch/internal/model"
)

// Postgres writes through a shared *sql.DB with pooling.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects and verifies the DSN.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &PersistError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PersistError{Op: "ping", Err: err}
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) InsertProduct(ctx context.Context, rec *model.ProductRecord) (int64, error) {
	const q = `
		INSERT INTO products (
			url, name, price, base_price, stock, stock_quantity, in_stock,
			error, seo_h1, seo_title, seo_meta_description
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`

	var id int64
	err := p.db.QueryRowContext(ctx, q,
		rec.URL, rec.Name, rec.Price, rec.BasePrice, rec.Stock,
		rec.StockQuantity, rec.InStock, nullIfEmpty(rec.Error),
		rec.SEOH1, rec.SEOTitle, rec.SEOMetaDescription,
	).Scan(&id)
	if err != nil {
		return 0, &PersistError{Op: "insert product", Err: err}
	}
	return id, nil
}

func (p *Postgres) InsertVariations(ctx context.Context, productID int64, variations []model.VariationRecord, domain string) ([]int64, error) {
	if len(variations) == 0 {
		return nil, nil
	}

	const q = `
		INSERT INTO product_variations (
			product_id, domain, type, value, price, stock, in_stock,
			variant_id, sku, url, attributes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &PersistError{Op: "begin variations", Err: err}
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(variations))
	for _, v := range variations {
		attrs := pqtype.NullRawMessage{}
		if len(v.Attributes) > 0 {
			raw, err := json.Marshal(v.Attributes)
			if err != nil {
				return nil, &PersistError{Op: "encode attributes", Err: err}
			}
			attrs = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
		}

		var id int64
		err := tx.QueryRowContext(ctx, q,
			productID, domain, v.Type, v.Value, v.Price, v.Stock,
			v.InStock, nullIfEmpty(v.VariantID), nullIfEmpty(v.SKU),
			nullIfEmpty(v.URL), attrs,
		).Scan(&id)
		if err != nil {
			return nil, &PersistError{Op: "insert variation", Err: err}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, &PersistError{Op: "commit variations", Err: err}
	}
	return ids, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
