package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusswap/campusswap/internal/domain/listing"
)

// ListingRepository implements listing.Repository.
type ListingRepository struct {
	pool *pgxpool.Pool
}

func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

const listingColumns = `id, listing_id, owner_id, title, description, price_cents, status, expires_at, created_at, updated_at`

func (r *ListingRepository) Create(ctx context.Context, l *listing.Listing) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO listings
		(listing_id, owner_id, title, description, price_cents, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, l.ListingID, l.OwnerID, l.Title, l.Description, l.PriceCents, l.Status, l.ExpiresAt, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *ListingRepository) GetByID(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE listing_id=$1`, listingID)
	return scanListing(row)
}

func (r *ListingRepository) List(ctx context.Context, filter listing.Filter, limit, offset int) ([]*listing.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	args := []interface{}{}
	idx := 1
	if filter.OwnerID != nil {
		query += addWhere(query) + " owner_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.OwnerID)
		idx++
	}
	if filter.Status != nil {
		query += addWhere(query) + " status=$" + strconv.Itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(idx) + " OFFSET $" + strconv.Itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var listings []*listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (r *ListingRepository) UpdateStatus(ctx context.Context, listingID uuid.UUID, status listing.Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE listings SET status=$1, updated_at=$2 WHERE listing_id=$3
	`, status, time.Now().UTC(), listingID)
	return err
}

// ListExpirable returns listings past their expiry that are still in a
// state the sweep may expire.
func (r *ListingRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*listing.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND status IN ($2, $3)
		ORDER BY expires_at ASC LIMIT $4
	`, now, listing.StatusApproved, listing.StatusInterestReceived, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var listings []*listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanListing(row pgx.Row) (*listing.Listing, error) {
	var l listing.Listing
	if err := row.Scan(&l.ID, &l.ListingID, &l.OwnerID, &l.Title, &l.Description, &l.PriceCents, &l.Status, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, listing.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}
