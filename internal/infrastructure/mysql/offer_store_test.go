package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"offer-market/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var itemColumns = []string{"id", "name", "description", "listing_price", "current_price", "image_url"}

func newMockStore(t *testing.T) (*MySQLOfferStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewMySQLOfferStore(db)
	store.clock = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	return store, mock
}

func expectItemLock(mock sqlmock.Sqlmock, itemID string) {
	mock.ExpectBegin()
	mock.ExpectQuery(selectItemForUpdateQuery).
		WithArgs(itemID).
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow(itemID, "Vintage Guitar", "sunburst finish", "50.00", "50.00", nil))
}

func TestWithItemLockAdmitsAndCommits(t *testing.T) {
	store, mock := newMockStore(t)
	amount := decimal.RequireFromString("75.50")

	expectItemLock(mock, "item-a")
	mock.ExpectQuery(selectMaxOfferQuery).
		WithArgs("item-a").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(selectLastOfferTimeQuery).
		WithArgs("item-a").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(insertOfferQuery).
		WithArgs("item-a", "alice", "alice@example.com", amount, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec(updateCurrentPriceQuery).
		WithArgs(amount, "item-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	offer := &domain.Offer{ItemID: "item-a", BidderName: "alice", BidderEmail: "alice@example.com", Amount: amount}
	err := store.WithItemLock(context.Background(), "item-a", func(ctx context.Context, tx domain.OfferTx) error {
		if tx.Item().Name != "Vintage Guitar" {
			t.Errorf("unexpected locked item %q", tx.Item().Name)
		}
		if _, has, err := tx.MaxOfferAmount(ctx); err != nil || has {
			t.Errorf("expected no offers yet, has=%v err=%v", has, err)
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		return tx.UpdateCurrentPrice(ctx, amount)
	})
	if err != nil {
		t.Fatalf("with item lock: %v", err)
	}

	if offer.ID != 42 {
		t.Fatalf("expected offer id 42, got %d", offer.ID)
	}
	if offer.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertOfferKeepsCreatedAtNonDecreasing(t *testing.T) {
	store, mock := newMockStore(t)
	last := time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)
	// The clock is five seconds behind the item's latest offer.
	store.clock = func() time.Time { return last.Add(-5 * time.Second) }
	amount := decimal.RequireFromString("80.00")

	expectItemLock(mock, "item-a")
	mock.ExpectQuery(selectLastOfferTimeQuery).
		WithArgs("item-a").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))
	mock.ExpectExec(insertOfferQuery).
		WithArgs("item-a", "bob", "bob@example.com", amount, last).
		WillReturnResult(sqlmock.NewResult(43, 1))
	mock.ExpectCommit()

	offer := &domain.Offer{ItemID: "item-a", BidderName: "bob", BidderEmail: "bob@example.com", Amount: amount}
	err := store.WithItemLock(context.Background(), "item-a", func(ctx context.Context, tx domain.OfferTx) error {
		return tx.InsertOffer(ctx, offer)
	})
	if err != nil {
		t.Fatalf("with item lock: %v", err)
	}

	if !offer.CreatedAt.Equal(last) {
		t.Fatalf("expected created_at %s, got %s", last, offer.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithItemLockUnknownItemRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectItemForUpdateQuery).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectRollback()

	err := store.WithItemLock(context.Background(), "missing", func(ctx context.Context, tx domain.OfferTx) error {
		t.Fatal("unit of work must not run for unknown items")
		return nil
	})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithItemLockRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	expectItemLock(mock, "item-a")
	mock.ExpectQuery(selectMaxOfferQuery).
		WithArgs("item-a").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow("500.00"))
	mock.ExpectRollback()

	var max decimal.Decimal
	err := store.WithItemLock(context.Background(), "item-a", func(ctx context.Context, tx domain.OfferTx) error {
		var err error
		max, _, err = tx.MaxOfferAmount(ctx)
		if err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !max.Equal(decimal.RequireFromString("500")) {
		t.Fatalf("expected max 500, got %s", max)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithItemLockDeadlockIsConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectItemForUpdateQuery).
		WithArgs("item-a").
		WillReturnError(&gomysql.MySQLError{Number: errDeadlock, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	err := store.WithItemLock(context.Background(), "item-a", func(ctx context.Context, tx domain.OfferTx) error {
		return nil
	})
	if !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"deadlock", &gomysql.MySQLError{Number: errDeadlock}, true},
		{"lock wait timeout", &gomysql.MySQLError{Number: errLockWaitTimeout}, true},
		{"duplicate key", &gomysql.MySQLError{Number: 1062}, false},
		{"plain error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if got := errors.Is(err, domain.ErrStorageConflict); got != tt.conflict {
				t.Fatalf("conflict = %v, want %v (err=%v)", got, tt.conflict, err)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("cause must stay wrapped, got %v", err)
			}
		})
	}
}

func TestTopOffers(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(selectTopOffersQuery).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"name", "bidder_name", "bidder_email", "amount", "created_at"}).
			AddRow("Vintage Guitar", "carol", "carol@example.com", "300.00", at.Add(2*time.Second)).
			AddRow("Signed Baseball", "bob", "bob@example.com", "250.00", at.Add(time.Second)).
			AddRow("Vintage Guitar", "alice", "alice@example.com", "100.00", at))

	ranked, err := store.TopOffers(context.Background(), 10)
	if err != nil {
		t.Fatalf("top offers: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked offers, got %d", len(ranked))
	}
	if ranked[0].ItemName != "Vintage Guitar" || !ranked[0].Amount.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("unexpected first entry: %+v", ranked[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCurrentPrice(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectCurrentPriceQuery).
		WithArgs("item-a").
		WillReturnRows(sqlmock.NewRows([]string{"current_price"}).AddRow("500.01"))
	mock.ExpectQuery(selectCurrentPriceQuery).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"current_price"}))

	price, err := store.CurrentPrice(context.Background(), "item-a")
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("500.01")) {
		t.Fatalf("expected 500.01, got %s", price)
	}

	if _, err := store.CurrentPrice(context.Background(), "missing"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListItemsPassesBounds(t *testing.T) {
	store, mock := newMockStore(t)
	min := decimal.RequireFromString("30")

	mock.ExpectQuery(selectItemsQuery).
		WithArgs(min, min, nil, nil).
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow("item-a", "Vintage Guitar", nil, "50.00", "75.50", "/img/a.jpg"))

	items, err := store.ListItems(context.Background(), domain.PriceFilter{Min: decimal.NewNullDecimal(min)})
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].ID != "item-a" || items[0].ImageURL != "/img/a.jpg" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Description != "" {
		t.Fatalf("expected NULL description to scan as empty, got %q", items[0].Description)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOffersForUnknownItem(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectItemQuery).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(itemColumns))

	if _, err := store.OffersForItem(context.Background(), "missing"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
