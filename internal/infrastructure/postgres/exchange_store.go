package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusswap/campusswap/internal/domain/audit"
	"github.com/campusswap/campusswap/internal/domain/dispute"
	"github.com/campusswap/campusswap/internal/domain/exchange"
	"github.com/campusswap/campusswap/internal/domain/listing"
	"github.com/campusswap/campusswap/internal/domain/request"
)

// ExchangeStore implements exchange.Store over a pgx pool. Row locks
// taken inside the transaction serialize concurrent transitions on the
// same request.
type ExchangeStore struct {
	pool *pgxpool.Pool
}

func NewExchangeStore(pool *pgxpool.Pool) *ExchangeStore {
	return &ExchangeStore{pool: pool}
}

func (s *ExchangeStore) WithinTx(ctx context.Context, fn func(tx exchange.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&exchangeTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type exchangeTx struct {
	tx pgx.Tx
}

func (t *exchangeTx) LockRequest(ctx context.Context, requestID uuid.UUID) (*request.Request, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM requests WHERE request_id=$1 FOR UPDATE
	`, requestID)
	return scanRequest(row)
}

func (t *exchangeTx) InsertRequest(ctx context.Context, req *request.Request) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO requests
		(request_id, listing_id, buyer_id, seller_id, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, req.RequestID, req.ListingID, req.BuyerID, req.SellerID, req.Status, req.Version, req.CreatedAt, req.UpdatedAt)
	return err
}

func (t *exchangeTx) UpdateRequestStatus(ctx context.Context, requestID uuid.UUID, status request.Status, version int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE requests SET status=$1, version=$2, updated_at=$3 WHERE request_id=$4
	`, status, version, time.Now().UTC(), requestID)
	return err
}

func (t *exchangeTx) GetListing(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE listing_id=$1 FOR UPDATE
	`, listingID)
	return scanListing(row)
}

func (t *exchangeTx) UpdateListingStatus(ctx context.Context, listingID uuid.UUID, status listing.Status) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE listings SET status=$1, updated_at=$2 WHERE listing_id=$3
	`, status, time.Now().UTC(), listingID)
	return err
}

// AcquireListingForRequest is a conditional write: the status predicate
// makes first-requester-wins atomic without a prior read.
func (t *exchangeTx) AcquireListingForRequest(ctx context.Context, listingID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE listings SET status=$1, updated_at=$2
		WHERE listing_id=$3 AND status=$4
	`, listing.StatusInterestReceived, time.Now().UTC(), listingID, listing.StatusApproved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *exchangeTx) CountActiveRequests(ctx context.Context, listingID, exclude uuid.UUID) (int, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM requests
		WHERE listing_id=$1 AND request_id<>$2 AND status = ANY($3)
	`, listingID, exclude, activeStatuses())
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *exchangeTx) BuyerHasActiveRequest(ctx context.Context, listingID, buyerID uuid.UUID) (bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM requests
			WHERE listing_id=$1 AND buyer_id=$2 AND status = ANY($3)
		)
	`, listingID, buyerID, activeStatuses())
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *exchangeTx) AddCompletedExchange(ctx context.Context, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE users SET completed_exchanges=completed_exchanges+1, updated_at=$1
		WHERE user_id = ANY($2)
	`, time.Now().UTC(), userIDs)
	return err
}

func (t *exchangeTx) AddCancelledRequest(ctx context.Context, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE users SET cancelled_requests=cancelled_requests+1, updated_at=$1
		WHERE user_id=$2
	`, time.Now().UTC(), userID)
	return err
}

func (t *exchangeTx) AddDisputeCount(ctx context.Context, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE users SET dispute_count=dispute_count+1, updated_at=$1
		WHERE user_id=$2
	`, time.Now().UTC(), userID)
	return err
}

func (t *exchangeTx) InsertDispute(ctx context.Context, d *dispute.Dispute) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO disputes
		(dispute_id, request_id, listing_id, initiator_id, target_id, status, reason, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, d.DisputeID, d.RequestID, d.ListingID, d.InitiatorID, d.TargetID, d.Status, d.Reason, d.OpenedAt)
	return err
}

func (t *exchangeTx) AppendAudit(ctx context.Context, log *audit.AuditLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_logs
		(audit_id, entity_type, entity_id, action, actor, actor_role, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, log.AuditID, log.EntityType, log.EntityID, log.Action, log.Actor, log.ActorRole, log.Metadata, log.CreatedAt)
	return err
}

func activeStatuses() []string {
	out := make([]string, 0, len(request.ActiveStatuses))
	for _, s := range request.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}
