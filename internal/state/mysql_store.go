package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/ETAnderson/pricewatch/internal/domain"
)

// mysqlErrDupEntry is ER_DUP_ENTRY.
const mysqlErrDupEntry = 1062

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLStore struct {
	db *sql.DB
	mysqlTx
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, mysqlTx: mysqlTx{q: db}}
}

// WithTx uses READ COMMITTED so a re-fetch after a duplicate-key insert sees
// the row the competing writer committed.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(mysqlTx{q: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

type mysqlTx struct {
	q queryer
}

const productColumns = `goods_id, name, img, market_price, category, min_price, historical_low_price, is_out_of_stock, link, update_time`

func (t mysqlTx) GetProduct(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	return t.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE goods_id = ?`, goodsID)
}

// GetProductForUpdate only locks inside WithTx; on the store it autocommits.
func (t mysqlTx) GetProductForUpdate(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	return t.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE goods_id = ? FOR UPDATE`, goodsID)
}

func (t mysqlTx) getProduct(ctx context.Context, query string, goodsID int64) (domain.Product, bool, error) {
	var (
		p        domain.Product
		category sql.NullString
		link     sql.NullString
		minPrice decimal.NullDecimal
		lowPrice decimal.NullDecimal
	)

	err := t.q.QueryRowContext(ctx, query, goodsID).Scan(&p.GoodsID, &p.Name, &p.Image, &p.MarketPrice, &category, &minPrice, &lowPrice, &p.IsOutOfStock, &link, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}

	p.Category = category.String
	p.Link = link.String
	p.MinPrice = nullDecimalPtr(minPrice)
	p.HistoricalLowPrice = nullDecimalPtr(lowPrice)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, true, nil
}

func (t mysqlTx) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.GoodsID, p.Name, p.Image, p.MarketPrice, nullString(p.Category),
		ptrNullDecimal(p.MinPrice), ptrNullDecimal(p.HistoricalLowPrice),
		p.IsOutOfStock, nullString(p.Link), p.UpdatedAt.UTC(),
	)
	return mapMySQLError(err)
}

func (t mysqlTx) UpdateProduct(ctx context.Context, p domain.Product) error {
	_, err := t.q.ExecContext(ctx, `
UPDATE products
SET name = ?, img = ?, market_price = ?, category = ?, min_price = ?,
    historical_low_price = ?, is_out_of_stock = ?, link = ?, update_time = ?
WHERE goods_id = ?`,
		p.Name, p.Image, p.MarketPrice, nullString(p.Category), ptrNullDecimal(p.MinPrice),
		ptrNullDecimal(p.HistoricalLowPrice), p.IsOutOfStock, nullString(p.Link), p.UpdatedAt.UTC(),
		p.GoodsID,
	)
	return err
}

func (t mysqlTx) GetListing(ctx context.Context, c2cID string) (domain.Listing, bool, error) {
	var l domain.Listing
	err := t.q.QueryRowContext(ctx,
		`SELECT c2c_id, goods_id, price, update_time FROM listings WHERE c2c_id = ?`,
		c2cID,
	).Scan(&l.C2CID, &l.GoodsID, &l.Price, &l.UpdatedAt)

	if err == sql.ErrNoRows {
		return domain.Listing{}, false, nil
	}
	if err != nil {
		return domain.Listing{}, false, err
	}
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, true, nil
}

func (t mysqlTx) InsertListing(ctx context.Context, l domain.Listing) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO listings (c2c_id, goods_id, price, update_time) VALUES (?, ?, ?, ?)`,
		l.C2CID, l.GoodsID, l.Price, l.UpdatedAt.UTC(),
	)
	return mapMySQLError(err)
}

func (t mysqlTx) UpdateListing(ctx context.Context, l domain.Listing) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE listings SET goods_id = ?, price = ?, update_time = ? WHERE c2c_id = ?`,
		l.GoodsID, l.Price, l.UpdatedAt.UTC(), l.C2CID,
	)
	return err
}

func (t mysqlTx) DeleteListing(ctx context.Context, c2cID string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM listings WHERE c2c_id = ?`, c2cID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t mysqlTx) CheapestListing(ctx context.Context, goodsID int64) (domain.Listing, bool, error) {
	var l domain.Listing
	err := t.q.QueryRowContext(ctx, `
SELECT c2c_id, goods_id, price, update_time
FROM listings
WHERE goods_id = ?
ORDER BY price ASC, c2c_id ASC
LIMIT 1`, goodsID).Scan(&l.C2CID, &l.GoodsID, &l.Price, &l.UpdatedAt)

	if err == sql.ErrNoRows {
		return domain.Listing{}, false, nil
	}
	if err != nil {
		return domain.Listing{}, false, err
	}
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, true, nil
}

func (t mysqlTx) ListListingsByPrice(ctx context.Context, goodsID int64) ([]domain.Listing, error) {
	rows, err := t.q.QueryContext(ctx, `
SELECT c2c_id, goods_id, price, update_time
FROM listings
WHERE goods_id = ?
ORDER BY price ASC, c2c_id ASC`, goodsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var l domain.Listing
		if err := rows.Scan(&l.C2CID, &l.GoodsID, &l.Price, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.UpdatedAt = l.UpdatedAt.UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t mysqlTx) AppendPriceRecord(ctx context.Context, rec domain.PriceRecord) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO price_history (goods_id, price, c2c_id, record_time) VALUES (?, ?, ?, ?)`,
		rec.GoodsID, rec.Price, rec.C2CID, rec.RecordedAt.UTC(),
	)
	return err
}

func (s *MySQLStore) ListPriceHistory(ctx context.Context, goodsID int64) ([]domain.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, goods_id, price, c2c_id, record_time
FROM price_history
WHERE goods_id = ?
ORDER BY record_time ASC, id ASC`, goodsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceRecord
	for rows.Next() {
		var r domain.PriceRecord
		if err := rows.Scan(&r.ID, &r.GoodsID, &r.Price, &r.C2CID, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.RecordedAt = r.RecordedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *MySQLStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT `value` FROM system_config WHERE `key` = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

func (s *MySQLStore) SetConfig(ctx context.Context, key, value, description string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO system_config (`key`, `value`, description) VALUES (?, ?, ?)\n"+
			"ON DUPLICATE KEY UPDATE `value` = VALUES(`value`)",
		key, value, description,
	)
	return err
}

func (s *MySQLStore) FavoriteEmails(ctx context.Context, goodsID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT u.email
FROM favorites f
JOIN users u ON u.id = f.user_id
WHERE f.goods_id = ? AND u.email IS NOT NULL AND u.email <> ''`, goodsID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func mapMySQLError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDupEntry {
		return fmt.Errorf("%w: %s", ErrConflict, me.Message)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return domain.DecimalPtr(d.Decimal)
}

func ptrNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
