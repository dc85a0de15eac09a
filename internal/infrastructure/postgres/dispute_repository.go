package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusswap/campusswap/internal/domain/dispute"
)

// DisputeRepository implements dispute.Repository.
type DisputeRepository struct {
	pool *pgxpool.Pool
}

func NewDisputeRepository(pool *pgxpool.Pool) *DisputeRepository {
	return &DisputeRepository{pool: pool}
}

const disputeColumns = `id, dispute_id, request_id, listing_id, initiator_id, target_id, status, reason, resolution_note, opened_at, review_started_at, closed_at`

func (r *DisputeRepository) Create(ctx context.Context, d *dispute.Dispute) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO disputes
		(dispute_id, request_id, listing_id, initiator_id, target_id, status, reason, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.DisputeID, d.RequestID, d.ListingID, d.InitiatorID, d.TargetID, d.Status, d.Reason, d.OpenedAt)
	return err
}

func (r *DisputeRepository) GetByID(ctx context.Context, disputeID uuid.UUID) (*dispute.Dispute, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE dispute_id=$1`, disputeID)
	return scanDispute(row)
}

func (r *DisputeRepository) List(ctx context.Context, filter dispute.Filter, limit, offset int) ([]*dispute.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []interface{}{}
	idx := 1
	if filter.RequestID != nil {
		query += addWhere(query) + " request_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.RequestID)
		idx++
	}
	if filter.Status != nil {
		query += addWhere(query) + " status=$" + strconv.Itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	query += " ORDER BY opened_at DESC LIMIT $" + strconv.Itoa(idx) + " OFFSET $" + strconv.Itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var disputes []*dispute.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

func (r *DisputeRepository) Update(ctx context.Context, d *dispute.Dispute) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE disputes
		SET status=$1, resolution_note=$2, review_started_at=$3, closed_at=$4
		WHERE dispute_id=$5
	`, d.Status, d.ResolutionNote, d.ReviewStartedAt, d.ClosedAt, d.DisputeID)
	return err
}

func scanDispute(row pgx.Row) (*dispute.Dispute, error) {
	var d dispute.Dispute
	if err := row.Scan(&d.ID, &d.DisputeID, &d.RequestID, &d.ListingID, &d.InitiatorID, &d.TargetID, &d.Status, &d.Reason, &d.ResolutionNote, &d.OpenedAt, &d.ReviewStartedAt, &d.ClosedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispute.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
