package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rangemark.org/internal/compliance"
	"rangemark.org/internal/order"
)

type Store struct {
	db *sql.DB
}

var _ order.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const orderColumns = `id, customer_id, currency, total_cents, status, hold_type,
	auth_transaction_id, coalesce(capture_transaction_id,''),
	coalesce(ffl_license,''), coalesce(ffl_business,''), ffl_verified, ffl_verified_at,
	firearms_window_count, limit_at_creation, settings_version, multi_hold_outstanding,
	coalesce(override_reason,''), created_at, cleared_at, voided_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, o *order.Order, authTx order.PaymentTransaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var fflLicense, fflBusiness sql.NullString
	var fflVerified bool
	var fflVerifiedAt *time.Time
	if o.FFL != nil {
		fflLicense = sql.NullString{String: o.FFL.LicenseNumber, Valid: true}
		fflBusiness = sql.NullString{String: o.FFL.BusinessName, Valid: true}
		fflVerified = o.FFL.Verified
		fflVerifiedAt = o.FFL.VerifiedAt
	}

	if _, err := tx.ExecContext(ctx, `
		insert into orders(
			id, customer_id, currency, total_cents, status, hold_type,
			auth_transaction_id, capture_transaction_id,
			ffl_license, ffl_business, ffl_verified, ffl_verified_at,
			firearms_window_count, limit_at_creation, settings_version, multi_hold_outstanding,
			override_reason, created_at, cleared_at, voided_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9,$10,$11,$12,$13,$14,$15,$16,nullif($17,''),$18,$19,$20,$21)
	`,
		o.ID, o.CustomerID, o.Currency, o.TotalCents, string(o.Status), o.HoldType.String(),
		o.AuthTransactionID, o.CaptureTransactionID,
		fflLicense, fflBusiness, fflVerified, fflVerifiedAt,
		o.FirearmsWindowCount, o.LimitAtCreation, o.SettingsVersion, o.MultiHoldOutstanding,
		o.OverrideReason, o.CreatedAt, o.ClearedAt, o.VoidedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, l := range o.Lines {
		if _, err := tx.ExecContext(ctx, `
			insert into order_lines(order_id, position, sku, quantity, unit_price_cents, is_firearm)
			values ($1,$2,$3,$4,$5,$6)
		`, o.ID, i, l.SKU, l.Quantity, l.UnitPriceCents, l.IsFirearm); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	if err := insertTransaction(ctx, tx, authTx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where id=$1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o *order.Order, expect ...order.Status) error {
	var fflLicense, fflBusiness sql.NullString
	var fflVerified bool
	var fflVerifiedAt *time.Time
	if o.FFL != nil {
		fflLicense = sql.NullString{String: o.FFL.LicenseNumber, Valid: true}
		fflBusiness = sql.NullString{String: o.FFL.BusinessName, Valid: true}
		fflVerified = o.FFL.Verified
		fflVerifiedAt = o.FFL.VerifiedAt
	}

	args := []any{
		o.ID, string(o.Status), o.HoldType.String(), o.CaptureTransactionID,
		fflLicense, fflBusiness, fflVerified, fflVerifiedAt,
		o.MultiHoldOutstanding, o.OverrideReason,
		o.ClearedAt, o.VoidedAt, o.UpdatedAt,
	}
	q := `
		update orders set
			status=$2, hold_type=$3, capture_transaction_id=nullif($4,''),
			ffl_license=$5, ffl_business=$6, ffl_verified=$7, ffl_verified_at=$8,
			multi_hold_outstanding=$9, override_reason=nullif($10,''),
			cleared_at=$11, voided_at=$12, updated_at=$13
		where id=$1`
	if len(expect) > 0 {
		ph := make([]string, 0, len(expect))
		for _, st := range expect {
			args = append(args, string(st))
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		q += ` and status in (` + strings.Join(ph, ",") + `)`
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost CAS race.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `select exists(select 1 from orders where id=$1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return order.ErrNotFound
		}
		return order.ErrConflict
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx order.PaymentTransaction) error {
	return insertTransaction(ctx, s.db, tx)
}

func (s *Store) ListTransactions(ctx context.Context, orderID string) ([]order.PaymentTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, order_id, kind, coalesce(gateway_transaction_id,''), amount_cents, result, created_at
		from payment_transactions
		where order_id=$1
		order by created_at asc, id asc
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []order.PaymentTransaction
	for rows.Next() {
		var tx order.PaymentTransaction
		var kind, result string
		if err := rows.Scan(&tx.ID, &tx.OrderID, &kind, &tx.GatewayTransactionID, &tx.AmountCents, &result, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = order.TxKind(kind)
		tx.Result = order.TxResult(result)
		res = append(res, tx)
	}
	return res, rows.Err()
}

func (s *Store) ListRetryable(ctx context.Context) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+orderColumns+`
		from orders
		where status in ('capture_failed','void_failed')
		order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range res {
		if err := s.loadLines(ctx, o); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Store) FirearmUnitsSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(l.quantity), 0)
		from order_lines l
		join orders o on o.id = l.order_id
		where o.customer_id=$1
		  and o.created_at >= $2
		  and o.status <> 'voided'
		  and l.is_firearm
	`, customerID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("window query: %w", err)
	}
	return n, nil
}

func (s *Store) HasVerifiedFFL(ctx context.Context, customerID string) (bool, error) {
	var verified bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from orders where customer_id=$1 and ffl_verified)
	`, customerID).Scan(&verified)
	if err != nil {
		return false, err
	}
	return verified, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, tx order.PaymentTransaction) error {
	if _, err := db.ExecContext(ctx, `
		insert into payment_transactions(id, order_id, kind, gateway_transaction_id, amount_cents, result, created_at)
		values ($1,$2,$3,nullif($4,''),$5,$6,$7)
	`, tx.ID, tx.OrderID, string(tx.Kind), tx.GatewayTransactionID, tx.AmountCents, string(tx.Result), tx.CreatedAt); err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	var status, holdType, fflLicense, fflBusiness string
	var fflVerified bool
	var fflVerifiedAt, clearedAt, voidedAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Currency, &o.TotalCents, &status, &holdType,
		&o.AuthTransactionID, &o.CaptureTransactionID,
		&fflLicense, &fflBusiness, &fflVerified, &fflVerifiedAt,
		&o.FirearmsWindowCount, &o.LimitAtCreation, &o.SettingsVersion, &o.MultiHoldOutstanding,
		&o.OverrideReason, &o.CreatedAt, &clearedAt, &voidedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	ht, err := compliance.ParseHoldType(holdType)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	o.HoldType = ht

	if fflLicense != "" {
		ref := &order.FFLDealerRef{
			LicenseNumber: fflLicense,
			BusinessName:  fflBusiness,
			Verified:      fflVerified,
		}
		if fflVerifiedAt.Valid {
			t := fflVerifiedAt.Time
			ref.VerifiedAt = &t
		}
		o.FFL = ref
	}
	if clearedAt.Valid {
		t := clearedAt.Time
		o.ClearedAt = &t
	}
	if voidedAt.Valid {
		t := voidedAt.Time
		o.VoidedAt = &t
	}
	return &o, nil
}

func (s *Store) loadLines(ctx context.Context, o *order.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		select sku, quantity, unit_price_cents, is_firearm
		from order_lines
		where order_id=$1
		order by position asc
	`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var l order.Line
		if err := rows.Scan(&l.SKU, &l.Quantity, &l.UnitPriceCents, &l.IsFirearm); err != nil {
			return err
		}
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}
