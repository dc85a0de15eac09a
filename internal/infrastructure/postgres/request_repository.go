package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusswap/campusswap/internal/domain/request"
)

// RequestRepository implements the read side of request.Repository. All
// writes go through the exchange store transaction.
type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

const requestColumns = `id, request_id, listing_id, buyer_id, seller_id, status, version, created_at, updated_at`

func (r *RequestRepository) GetByID(ctx context.Context, requestID uuid.UUID) (*request.Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE request_id=$1`, requestID)
	return scanRequest(row)
}

func (r *RequestRepository) List(ctx context.Context, filter request.Filter, limit, offset int) ([]*request.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	args := []interface{}{}
	idx := 1
	if filter.ListingID != nil {
		query += addWhere(query) + " listing_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.ListingID)
		idx++
	}
	if filter.BuyerID != nil {
		query += addWhere(query) + " buyer_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.BuyerID)
		idx++
	}
	if filter.SellerID != nil {
		query += addWhere(query) + " seller_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.SellerID)
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
	var requests []*request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func scanRequest(row pgx.Row) (*request.Request, error) {
	var req request.Request
	if err := row.Scan(&req.ID, &req.RequestID, &req.ListingID, &req.BuyerID, &req.SellerID, &req.Status, &req.Version, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, request.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}
