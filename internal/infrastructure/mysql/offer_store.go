package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offer-market/internal/domain"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// InnoDB error numbers that indicate the transaction lost a race and can be
// retried from the start.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

const (
	selectItemForUpdateQuery = `
        SELECT id, name, description, listing_price, current_price, image_url
        FROM items WHERE id = ? FOR UPDATE
    `
	selectItemQuery = `
        SELECT id, name, description, listing_price, current_price, image_url
        FROM items WHERE id = ?
    `
	selectMaxOfferQuery      = `SELECT MAX(amount) FROM offers WHERE item_id = ?`
	selectLastOfferTimeQuery = `SELECT MAX(created_at) FROM offers WHERE item_id = ?`
	insertOfferQuery         = `
        INSERT INTO offers (item_id, bidder_name, bidder_email, amount, created_at)
        VALUES (?, ?, ?, ?, ?)
    `
	updateCurrentPriceQuery = `UPDATE items SET current_price = ? WHERE id = ?`
	selectCurrentPriceQuery = `SELECT current_price FROM items WHERE id = ?`
	selectTopOffersQuery    = `
        SELECT i.name, o.bidder_name, o.bidder_email, o.amount, o.created_at
        FROM offers o
        JOIN items i ON o.item_id = i.id
        ORDER BY o.amount DESC, o.created_at ASC, o.id ASC
        LIMIT ?
    `
	selectItemsQuery = `
        SELECT id, name, description, listing_price, current_price, image_url
        FROM items
        WHERE (? IS NULL OR current_price >= ?) AND (? IS NULL OR current_price <= ?)
        ORDER BY id ASC
    `
	selectOffersForItemQuery = `
        SELECT id, item_id, bidder_name, bidder_email, amount, created_at
        FROM offers
        WHERE item_id = ?
        ORDER BY amount DESC, created_at ASC, id ASC
    `
)

type MySQLOfferStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewMySQLOfferStore(db *sql.DB) *MySQLOfferStore {
	return &MySQLOfferStore{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithItemLock opens a READ COMMITTED transaction and takes a row lock on the
// item before running fn. Every writer of an item goes through this lock, so
// the MAX read inside fn cannot go stale before commit.
func (r *MySQLOfferStore) WithItemLock(ctx context.Context, itemID string, fn func(ctx context.Context, tx domain.OfferTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}

	item, err := scanItem(tx.QueryRowContext(ctx, selectItemForUpdateQuery, itemID))
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		return classify("lock item", err)
	}

	if err := fn(ctx, &mysqlOfferTx{tx: tx, item: item, clock: r.clock}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (r *MySQLOfferStore) TopOffers(ctx context.Context, limit int) ([]*domain.RankedOffer, error) {
	rows, err := r.db.QueryContext(ctx, selectTopOffersQuery, limit)
	if err != nil {
		return nil, classify("query top offers", err)
	}
	defer rows.Close()

	ranked := make([]*domain.RankedOffer, 0, limit)
	for rows.Next() {
		var offer domain.RankedOffer
		if err := rows.Scan(&offer.ItemName, &offer.BidderName, &offer.BidderEmail,
			&offer.Amount, &offer.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ranked offer: %w", err)
		}
		ranked = append(ranked, &offer)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate top offers", err)
	}

	return ranked, nil
}

func (r *MySQLOfferStore) CurrentPrice(ctx context.Context, itemID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.db.QueryRowContext(ctx, selectCurrentPriceQuery, itemID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrItemNotFound
	}
	if err != nil {
		return decimal.Zero, classify("query current price", err)
	}
	return price, nil
}

func (r *MySQLOfferStore) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, selectItemQuery, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, classify("query item", err)
	}
	return item, nil
}

func (r *MySQLOfferStore) ListItems(ctx context.Context, filter domain.PriceFilter) ([]*domain.Item, error) {
	min, max := nullableBound(filter.Min), nullableBound(filter.Max)

	rows, err := r.db.QueryContext(ctx, selectItemsQuery, min, min, max, max)
	if err != nil {
		return nil, classify("query items", err)
	}
	defer rows.Close()

	items := make([]*domain.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate items", err)
	}
	return items, nil
}

func (r *MySQLOfferStore) OffersForItem(ctx context.Context, itemID string) ([]*domain.Offer, error) {
	if _, err := r.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectOffersForItemQuery, itemID)
	if err != nil {
		return nil, classify("query offers", err)
	}
	defer rows.Close()

	offers := make([]*domain.Offer, 0)
	for rows.Next() {
		var offer domain.Offer
		if err := rows.Scan(&offer.ID, &offer.ItemID, &offer.BidderName, &offer.BidderEmail,
			&offer.Amount, &offer.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, &offer)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate offers", err)
	}
	return offers, nil
}

type mysqlOfferTx struct {
	tx    *sql.Tx
	item  *domain.Item
	clock func() time.Time
}

func (t *mysqlOfferTx) Item() *domain.Item {
	item := *t.item
	return &item
}

func (t *mysqlOfferTx) MaxOfferAmount(ctx context.Context) (decimal.Decimal, bool, error) {
	var max decimal.NullDecimal
	if err := t.tx.QueryRowContext(ctx, selectMaxOfferQuery, t.item.ID).Scan(&max); err != nil {
		return decimal.Zero, false, classify("query max offer", err)
	}
	return max.Decimal, max.Valid, nil
}

// InsertOffer stamps the offer with the clock, but never earlier than the
// item's latest offer, so created_at stays non-decreasing per item across
// instances with skewed clocks.
func (t *mysqlOfferTx) InsertOffer(ctx context.Context, offer *domain.Offer) error {
	var last sql.NullTime
	if err := t.tx.QueryRowContext(ctx, selectLastOfferTimeQuery, t.item.ID).Scan(&last); err != nil {
		return classify("query last offer time", err)
	}

	// created_at is DATETIME(6).
	createdAt := t.clock().Truncate(time.Microsecond)
	if last.Valid && createdAt.Before(last.Time) {
		createdAt = last.Time
	}

	result, err := t.tx.ExecContext(ctx, insertOfferQuery,
		offer.ItemID, offer.BidderName, offer.BidderEmail, offer.Amount, createdAt)
	if err != nil {
		return classify("insert offer", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return classify("read offer id", err)
	}

	offer.ID = id
	offer.CreatedAt = createdAt
	return nil
}

func (t *mysqlOfferTx) UpdateCurrentPrice(ctx context.Context, amount decimal.Decimal) error {
	// Zero affected rows is fine here: the first offer may equal the listing price.
	if _, err := t.tx.ExecContext(ctx, updateCurrentPriceQuery, amount, t.item.ID); err != nil {
		return classify("update current price", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var item domain.Item
	var description, imageURL sql.NullString

	err := row.Scan(&item.ID, &item.Name, &description,
		&item.ListingPrice, &item.CurrentPrice, &imageURL)
	if err != nil {
		return nil, err
	}

	item.Description = description.String
	item.ImageURL = imageURL.String
	return &item, nil
}

func nullableBound(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

// classify wraps driver errors, marking deadlocks and lock wait timeouts as
// retryable conflicts.
func classify(op string, err error) error {
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errDeadlock, errLockWaitTimeout:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
