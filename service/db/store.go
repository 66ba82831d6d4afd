package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the storefront.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Purchase is a confirmed checkout, keyed by the on-chain transaction id.
// Purchases are append-only; a mined transaction cannot be undone, so
// records are never updated or deleted.
type Purchase struct {
	ID           string    `json:"id"`
	Item         string    `json:"item"`
	Amount       string    `json:"amount"` // display units, 2 decimal places
	PayerAddress string    `json:"payer_address"`
	TxID         string    `json:"tx_id"`
	PurchasedAt  time.Time `json:"purchased_at"`
	BuyerName    string    `json:"buyer_name"`
	BuyerEmail   string    `json:"buyer_email"`
	BuyerAddress string    `json:"buyer_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreatePurchaseParams contains the parameters for recording a purchase.
type CreatePurchaseParams struct {
	ID           string
	Item         string
	Amount       string
	PayerAddress string
	TxID         string
	PurchasedAt  time.Time
	BuyerName    string
	BuyerEmail   string
	BuyerAddress string
}

// CreatePurchase appends a purchase record.
func (s *Store) CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*Purchase, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO purchases (id, item, amount, payer_address, tx_id, purchased_at, buyer_name, buyer_email, buyer_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, item, amount, payer_address, tx_id, purchased_at, buyer_name, buyer_email, buyer_address, created_at`,
		params.ID, params.Item, params.Amount, params.PayerAddress, params.TxID,
		params.PurchasedAt, params.BuyerName, params.BuyerEmail, params.BuyerAddress,
	)
	return scanPurchase(row)
}

// GetPurchaseByTxID retrieves a purchase by its transaction id.
func (s *Store) GetPurchaseByTxID(ctx context.Context, txID string) (*Purchase, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, item, amount, payer_address, tx_id, purchased_at, buyer_name, buyer_email, buyer_address, created_at
		FROM purchases WHERE tx_id = $1`,
		txID,
	)
	p, err := scanPurchase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPurchases retrieves purchases, newest first.
func (s *Store) ListPurchases(ctx context.Context, limit, offset int32) ([]*Purchase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item, amount, payer_address, tx_id, purchased_at, buyer_name, buyer_email, buyer_address, created_at
		FROM purchases ORDER BY purchased_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []*Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// Product is an item in the storefront catalog.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceUSD    float64   `json:"price_usd"`
	PriceToken  string    `json:"price_token"` // display units
	SoldOut     bool      `json:"sold_out"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateProductParams contains the parameters for adding a product.
type CreateProductParams struct {
	ID          string
	Name        string
	Description string
	PriceUSD    float64
	PriceToken  string
	SoldOut     bool
}

// CreateProduct adds a product to the catalog.
func (s *Store) CreateProduct(ctx context.Context, params CreateProductParams) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO products (id, name, description, price_usd, price_token, sold_out)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, description, price_usd, price_token, sold_out, created_at, updated_at`,
		params.ID, params.Name, params.Description, params.PriceUSD, params.PriceToken, params.SoldOut,
	)
	return scanProduct(row)
}

// GetProduct retrieves a product by id.
func (s *Store) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, price_usd, price_token, sold_out, created_at, updated_at
		FROM products WHERE id = $1`,
		id,
	)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProducts retrieves the full catalog, oldest first.
func (s *Store) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, price_usd, price_token, sold_out, created_at, updated_at
		FROM products ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateProductParams contains the parameters for updating a product.
type UpdateProductParams struct {
	ID          string
	Name        string
	Description string
	PriceUSD    float64
	PriceToken  string
	SoldOut     bool
}

// UpdateProduct replaces a product's mutable fields.
func (s *Store) UpdateProduct(ctx context.Context, params UpdateProductParams) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, description = $3, price_usd = $4, price_token = $5, sold_out = $6, updated_at = now()
		WHERE id = $1
		RETURNING id, name, description, price_usd, price_token, sold_out, created_at, updated_at`,
		params.ID, params.Name, params.Description, params.PriceUSD, params.PriceToken, params.SoldOut,
	)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// DeleteProduct removes a product from the catalog.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Registration is an attendee signup for a storefront event.
type Registration struct {
	ID            string    `json:"id"`
	EventName     string    `json:"event_name"`
	AttendeeName  string    `json:"attendee_name"`
	AttendeeEmail string    `json:"attendee_email"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateRegistrationParams contains the parameters for an event signup.
type CreateRegistrationParams struct {
	ID            string
	EventName     string
	AttendeeName  string
	AttendeeEmail string
}

// CreateRegistration appends an event registration.
func (s *Store) CreateRegistration(ctx context.Context, params CreateRegistrationParams) (*Registration, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO event_registrations (id, event_name, attendee_name, attendee_email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, event_name, attendee_name, attendee_email, created_at`,
		params.ID, params.EventName, params.AttendeeName, params.AttendeeEmail,
	)
	var reg Registration
	if err := row.Scan(&reg.ID, &reg.EventName, &reg.AttendeeName, &reg.AttendeeEmail, &reg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}
	return &reg, nil
}

// ListRegistrations retrieves registrations for an event, oldest first.
func (s *Store) ListRegistrations(ctx context.Context, eventName string) ([]*Registration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_name, attendee_name, attendee_email, created_at
		FROM event_registrations WHERE event_name = $1 ORDER BY created_at ASC`,
		eventName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.ID, &reg.EventName, &reg.AttendeeName, &reg.AttendeeEmail, &reg.CreatedAt); err != nil {
			return nil, err
		}
		regs = append(regs, &reg)
	}
	return regs, rows.Err()
}

// row is the subset of pgx.Row/pgx.Rows needed by the scan helpers.
type row interface {
	Scan(dest ...any) error
}

func scanPurchase(r row) (*Purchase, error) {
	var p Purchase
	err := r.Scan(&p.ID, &p.Item, &p.Amount, &p.PayerAddress, &p.TxID,
		&p.PurchasedAt, &p.BuyerName, &p.BuyerEmail, &p.BuyerAddress, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProduct(r row) (*Product, error) {
	var p Product
	err := r.Scan(&p.ID, &p.Name, &p.Description, &p.PriceUSD, &p.PriceToken,
		&p.SoldOut, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
