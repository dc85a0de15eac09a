package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/campusswap/campusswap/internal/domain/audit"
	"github.com/campusswap/campusswap/internal/domain/dispute"
	"github.com/campusswap/campusswap/internal/domain/exchange"
	"github.com/campusswap/campusswap/internal/domain/listing"
	"github.com/campusswap/campusswap/internal/domain/request"
	"github.com/campusswap/campusswap/internal/domain/trust"
	"github.com/campusswap/campusswap/internal/domain/user"
	usermocks "github.com/campusswap/campusswap/internal/domain/user/mocks"
)

// memoryStore is an in-memory exchange.Store. A single mutex held for the
// whole transaction stands in for row locking, and writes are staged so a
// failed transaction leaves no trace.
type memoryStore struct {
	mu        sync.Mutex
	listings  map[uuid.UUID]*listing.Listing
	requests  map[uuid.UUID]*request.Request
	users     map[uuid.UUID]*user.User
	disputes  []*dispute.Dispute
	auditLogs []*audit.AuditLog
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		listings: make(map[uuid.UUID]*listing.Listing),
		requests: make(map[uuid.UUID]*request.Request),
		users:    make(map[uuid.UUID]*user.User),
	}
}

func (s *memoryStore) WithinTx(ctx context.Context, fn func(tx exchange.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{
		store:         s,
		requestStatus: make(map[uuid.UUID]statusVersion),
		listingStatus: make(map[uuid.UUID]listing.Status),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type statusVersion struct {
	status  request.Status
	version int64
}

type memoryTx struct {
	store          *memoryStore
	requestInserts []*request.Request
	requestStatus  map[uuid.UUID]statusVersion
	listingStatus  map[uuid.UUID]listing.Status
	completed      []uuid.UUID
	cancelled      []uuid.UUID
	disputed       []uuid.UUID
	disputes       []*dispute.Dispute
	auditLogs      []*audit.AuditLog
}

func (t *memoryTx) commit() {
	for _, req := range t.requestInserts {
		cp := *req
		t.store.requests[req.RequestID] = &cp
	}
	for id, sv := range t.requestStatus {
		t.store.requests[id].Status = sv.status
		t.store.requests[id].Version = sv.version
	}
	for id, status := range t.listingStatus {
		t.store.listings[id].Status = status
	}
	for _, id := range t.completed {
		t.store.users[id].CompletedExchanges++
	}
	for _, id := range t.cancelled {
		t.store.users[id].CancelledRequests++
	}
	for _, id := range t.disputed {
		t.store.users[id].DisputeCount++
	}
	t.store.disputes = append(t.store.disputes, t.disputes...)
	t.store.auditLogs = append(t.store.auditLogs, t.auditLogs...)
}

func (t *memoryTx) LockRequest(ctx context.Context, requestID uuid.UUID) (*request.Request, error) {
	req, ok := t.store.requests[requestID]
	if !ok {
		return nil, request.ErrNotFound
	}
	cp := *req
	if sv, ok := t.requestStatus[requestID]; ok {
		cp.Status = sv.status
		cp.Version = sv.version
	}
	return &cp, nil
}

func (t *memoryTx) InsertRequest(ctx context.Context, req *request.Request) error {
	t.requestInserts = append(t.requestInserts, req)
	return nil
}

func (t *memoryTx) UpdateRequestStatus(ctx context.Context, requestID uuid.UUID, status request.Status, version int64) error {
	t.requestStatus[requestID] = statusVersion{status: status, version: version}
	return nil
}

func (t *memoryTx) GetListing(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	l, ok := t.store.listings[listingID]
	if !ok {
		return nil, listing.ErrNotFound
	}
	cp := *l
	if status, ok := t.listingStatus[listingID]; ok {
		cp.Status = status
	}
	return &cp, nil
}

func (t *memoryTx) UpdateListingStatus(ctx context.Context, listingID uuid.UUID, status listing.Status) error {
	t.listingStatus[listingID] = status
	return nil
}

func (t *memoryTx) AcquireListingForRequest(ctx context.Context, listingID uuid.UUID) (bool, error) {
	l, err := t.GetListing(ctx, listingID)
	if err != nil {
		return false, err
	}
	if l.Status != listing.StatusApproved {
		return false, nil
	}
	t.listingStatus[listingID] = listing.StatusInterestReceived
	return true, nil
}

func (t *memoryTx) activeRequests(listingID uuid.UUID) []*request.Request {
	var out []*request.Request
	for _, req := range t.store.requests {
		if req.ListingID != listingID {
			continue
		}
		status := req.Status
		if sv, ok := t.requestStatus[req.RequestID]; ok {
			status = sv.status
		}
		if request.IsActive(status) {
			out = append(out, req)
		}
	}
	return out
}

func (t *memoryTx) CountActiveRequests(ctx context.Context, listingID, exclude uuid.UUID) (int, error) {
	count := 0
	for _, req := range t.activeRequests(listingID) {
		if req.RequestID != exclude {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) BuyerHasActiveRequest(ctx context.Context, listingID, buyerID uuid.UUID) (bool, error) {
	for _, req := range t.activeRequests(listingID) {
		if req.BuyerID == buyerID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) AddCompletedExchange(ctx context.Context, userIDs ...uuid.UUID) error {
	t.completed = append(t.completed, userIDs...)
	return nil
}

func (t *memoryTx) AddCancelledRequest(ctx context.Context, userID uuid.UUID) error {
	t.cancelled = append(t.cancelled, userID)
	return nil
}

func (t *memoryTx) AddDisputeCount(ctx context.Context, userID uuid.UUID) error {
	t.disputed = append(t.disputed, userID)
	return nil
}

func (t *memoryTx) InsertDispute(ctx context.Context, d *dispute.Dispute) error {
	t.disputes = append(t.disputes, d)
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, log *audit.AuditLog) error {
	t.auditLogs = append(t.auditLogs, log)
	return nil
}

type fixture struct {
	store   *memoryStore
	service *Service
	buyer   Actor
	seller  Actor
	admin   Actor
	listing *listing.Listing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := newMemoryStore()

	buyerID := uuid.New()
	sellerID := uuid.New()
	adminID := uuid.New()
	for _, id := range []uuid.UUID{buyerID, sellerID, adminID} {
		store.users[id] = &user.User{
			UserID:    id,
			Status:    user.StatusActive,
			CreatedAt: time.Now().UTC().AddDate(0, -6, 0),
		}
	}

	users := usermocks.NewMockRepository(ctrl)
	users.EXPECT().GetByID(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, id uuid.UUID) (*user.User, error) {
			u, ok := store.users[id]
			if !ok {
				return nil, user.ErrNotFound
			}
			cp := *u
			return &cp, nil
		}).AnyTimes()

	engine, err := trust.NewEngine(trust.DefaultRules())
	require.NoError(t, err)

	l := listing.New(sellerID, "calculus textbook", "lightly used", 2500)
	l.Status = listing.StatusApproved
	store.listings[l.ListingID] = l

	return &fixture{
		store:   store,
		service: NewService(store, users, engine, nil, zerolog.Nop()),
		buyer:   Actor{UserID: buyerID, Role: user.RoleStudent},
		seller:  Actor{UserID: sellerID, Role: user.RoleStudent},
		admin:   Actor{UserID: adminID, Role: user.RoleAdmin},
		listing: l,
	}
}

func (f *fixture) createRequest(t *testing.T) *request.Request {
	t.Helper()
	req, err := f.service.CreateRequest(context.Background(), f.buyer, f.listing.ListingID)
	require.NoError(t, err)
	return req
}

func (f *fixture) apply(t *testing.T, actor Actor, requestID uuid.UUID, event request.Event) *request.Request {
	t.Helper()
	req, err := f.service.ApplyEvent(context.Background(), actor, Command{RequestID: requestID, Event: event})
	require.NoError(t, err)
	return req
}

func TestCreateRequestMovesListingToInterestReceived(t *testing.T) {
	f := newFixture(t)

	req := f.createRequest(t)

	assert.Equal(t, request.StatusSent, req.Status)
	assert.Equal(t, int64(1), req.Version)
	assert.Equal(t, f.seller.UserID, req.SellerID)
	assert.Equal(t, listing.StatusInterestReceived, f.store.listings[f.listing.ListingID].Status)

	require.Len(t, f.store.auditLogs, 1)
	assert.Equal(t, audit.ActionCreate, f.store.auditLogs[0].Action)
	assert.Equal(t, req.RequestID.String(), f.store.auditLogs[0].EntityID)
}

func TestCreateRequestOwnListingForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateRequest(context.Background(), f.seller, f.listing.ListingID)
	assert.ErrorIs(t, err, request.ErrForbidden)
}

func TestCreateRequestDuplicateActiveConflict(t *testing.T) {
	f := newFixture(t)
	f.createRequest(t)

	_, err := f.service.CreateRequest(context.Background(), f.buyer, f.listing.ListingID)
	assert.ErrorIs(t, err, request.ErrConflict)
}

func TestCreateRequestSecondBuyerJoins(t *testing.T) {
	f := newFixture(t)
	f.createRequest(t)

	other := Actor{UserID: uuid.New(), Role: user.RoleStudent}
	f.store.users[other.UserID] = &user.User{
		UserID:    other.UserID,
		Status:    user.StatusActive,
		CreatedAt: time.Now().UTC().AddDate(0, -3, 0),
	}

	req, err := f.service.CreateRequest(context.Background(), other, f.listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusSent, req.Status)
	assert.Equal(t, listing.StatusInterestReceived, f.store.listings[f.listing.ListingID].Status)
}

func TestCreateRequestUnlistedStatusConflict(t *testing.T) {
	f := newFixture(t)
	f.store.listings[f.listing.ListingID].Status = listing.StatusDraft

	_, err := f.service.CreateRequest(context.Background(), f.buyer, f.listing.ListingID)
	assert.ErrorIs(t, err, request.ErrConflict)
}

func TestCreateRequestListingNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateRequest(context.Background(), f.buyer, uuid.New())
	assert.ErrorIs(t, err, listing.ErrNotFound)
}

func TestCreateRequestBlockedByTrustPolicy(t *testing.T) {
	f := newFixture(t)
	f.store.users[f.buyer.UserID].AdminFlags = 2

	_, err := f.service.CreateRequest(context.Background(), f.buyer, f.listing.ListingID)
	assert.ErrorIs(t, err, request.ErrForbidden)
	assert.Empty(t, f.store.requests)
}

func TestAcceptCascadesListingToInTransaction(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	updated := f.apply(t, f.seller, req.RequestID, request.EventAccept)

	assert.Equal(t, request.StatusAccepted, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, listing.StatusInTransaction, f.store.listings[f.listing.ListingID].Status)
}

func TestConfirmCompletesListingAndCounters(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	f.apply(t, f.seller, req.RequestID, request.EventAccept)
	f.apply(t, f.buyer, req.RequestID, request.EventSchedule)

	updated := f.apply(t, f.seller, req.RequestID, request.EventConfirm)

	assert.Equal(t, request.StatusCompleted, updated.Status)
	assert.Equal(t, listing.StatusCompleted, f.store.listings[f.listing.ListingID].Status)
	assert.Equal(t, 1, f.store.users[f.buyer.UserID].CompletedExchanges)
	assert.Equal(t, 1, f.store.users[f.seller.UserID].CompletedExchanges)
}

func TestDeclineRevertsListingToApproved(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	updated := f.apply(t, f.seller, req.RequestID, request.EventDecline)

	assert.Equal(t, request.StatusDeclined, updated.Status)
	assert.Equal(t, listing.StatusApproved, f.store.listings[f.listing.ListingID].Status)
}

func TestWithdrawWithOtherActiveRequestLeavesListing(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	other := Actor{UserID: uuid.New(), Role: user.RoleStudent}
	f.store.users[other.UserID] = &user.User{
		UserID:    other.UserID,
		Status:    user.StatusActive,
		CreatedAt: time.Now().UTC().AddDate(-1, 0, 0),
	}
	_, err := f.service.CreateRequest(context.Background(), other, f.listing.ListingID)
	require.NoError(t, err)

	f.apply(t, f.buyer, req.RequestID, request.EventWithdraw)

	assert.Equal(t, listing.StatusInterestReceived, f.store.listings[f.listing.ListingID].Status)
}

func TestCancelCountsAgainstCancellerAndReleasesListing(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	f.apply(t, f.seller, req.RequestID, request.EventAccept)

	updated := f.apply(t, f.buyer, req.RequestID, request.EventCancel)

	assert.Equal(t, request.StatusCancelled, updated.Status)
	assert.Equal(t, 1, f.store.users[f.buyer.UserID].CancelledRequests)
	assert.Equal(t, 0, f.store.users[f.seller.UserID].CancelledRequests)
	assert.Equal(t, listing.StatusApproved, f.store.listings[f.listing.ListingID].Status)
}

func TestAdminCancelDoesNotCountAgainstParties(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	f.apply(t, f.seller, req.RequestID, request.EventAccept)

	updated := f.apply(t, f.admin, req.RequestID, request.EventCancel)

	assert.Equal(t, request.StatusCancelled, updated.Status)
	assert.Equal(t, 0, f.store.users[f.buyer.UserID].CancelledRequests)
	assert.Equal(t, 0, f.store.users[f.seller.UserID].CancelledRequests)
}

func TestDisputeOpensDisputeAndCountsTarget(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	f.apply(t, f.seller, req.RequestID, request.EventAccept)

	updated, err := f.service.ApplyEvent(context.Background(), f.buyer, Command{
		RequestID: req.RequestID,
		Event:     request.EventDispute,
		Reason:    "item not as described",
	})
	require.NoError(t, err)

	assert.Equal(t, request.StatusDisputed, updated.Status)
	require.Len(t, f.store.disputes, 1)
	d := f.store.disputes[0]
	assert.Equal(t, dispute.StatusOpen, d.Status)
	assert.Equal(t, f.buyer.UserID, d.InitiatorID)
	assert.Equal(t, f.seller.UserID, d.TargetID)
	assert.Equal(t, "item not as described", d.Reason)
	assert.Equal(t, 1, f.store.users[f.seller.UserID].DisputeCount)
}

func TestVersionConflict(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	_, err := f.service.ApplyEvent(context.Background(), f.seller, Command{
		RequestID:       req.RequestID,
		Event:           request.EventAccept,
		ExpectedVersion: 7,
	})

	var conflict *request.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(7), conflict.Expected)
	assert.Equal(t, int64(1), conflict.Current)
	assert.ErrorIs(t, err, request.ErrConflict)

	// Nothing committed.
	assert.Equal(t, request.StatusSent, f.store.requests[req.RequestID].Status)

	// Retrying with the version reported in the conflict succeeds.
	updated, err := f.service.ApplyEvent(context.Background(), f.seller, Command{
		RequestID:       req.RequestID,
		Event:           request.EventAccept,
		ExpectedVersion: conflict.Current,
	})
	require.NoError(t, err)
	assert.Equal(t, request.StatusAccepted, updated.Status)
	assert.Equal(t, conflict.Current+1, updated.Version)
}

func TestAuthorizationMatrix(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	// Buyer may not accept their own request.
	_, err := f.service.ApplyEvent(context.Background(), f.buyer, Command{RequestID: req.RequestID, Event: request.EventAccept})
	assert.ErrorIs(t, err, request.ErrForbidden)

	// A stranger may not touch the request at all.
	stranger := Actor{UserID: uuid.New(), Role: user.RoleStudent}
	_, err = f.service.ApplyEvent(context.Background(), stranger, Command{RequestID: req.RequestID, Event: request.EventWithdraw})
	assert.ErrorIs(t, err, request.ErrForbidden)

	// Non-admins may not expire requests.
	_, err = f.service.ApplyEvent(context.Background(), f.buyer, Command{RequestID: req.RequestID, Event: request.EventExpire})
	assert.ErrorIs(t, err, request.ErrForbidden)

	// Admins bypass the matrix.
	updated := f.apply(t, f.admin, req.RequestID, request.EventExpire)
	assert.Equal(t, request.StatusExpired, updated.Status)
}

func TestAuthorizationCheckedBeforeTransitionValidity(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	// ACCEPT is legal in SENT but the buyer is the wrong party: forbidden,
	// not conflict. DECLINE from a stranger on a declined request would be
	// both, and forbidden still wins.
	_, err := f.service.ApplyEvent(context.Background(), f.buyer, Command{RequestID: req.RequestID, Event: request.EventAccept})
	assert.ErrorIs(t, err, request.ErrForbidden)
	assert.NotErrorIs(t, err, request.ErrConflict)
}

func TestInvalidTransitionConflict(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	_, err := f.service.ApplyEvent(context.Background(), f.seller, Command{RequestID: req.RequestID, Event: request.EventConfirm})
	assert.ErrorIs(t, err, request.ErrConflict)
}

func TestApplyEventRequestNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ApplyEvent(context.Background(), f.admin, Command{RequestID: uuid.New(), Event: request.EventExpire})
	assert.ErrorIs(t, err, request.ErrNotFound)
}

func TestRetryAfterDeclineAllowsNewCycle(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	f.apply(t, f.seller, req.RequestID, request.EventDecline)

	updated := f.apply(t, f.buyer, req.RequestID, request.EventRetry)
	assert.Equal(t, request.StatusIdle, updated.Status)
	assert.Equal(t, int64(3), updated.Version)
}

func TestTransitionAuditTrail(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)
	f.apply(t, f.seller, req.RequestID, request.EventAccept)

	require.Len(t, f.store.auditLogs, 2)
	entry := f.store.auditLogs[1]
	assert.Equal(t, audit.ActionTransition, entry.Action)
	assert.Equal(t, audit.EntityTypeRequest, entry.EntityType)
	assert.Equal(t, f.seller.UserID.String(), entry.Actor)
	assert.Contains(t, string(entry.Metadata), `"event":"ACCEPT"`)
	assert.Contains(t, string(entry.Metadata), `"fromStatus":"SENT"`)
	assert.Contains(t, string(entry.Metadata), `"toStatus":"ACCEPTED"`)
}

func TestConcurrentAcceptAndDeclineExactlyOneWins(t *testing.T) {
	// ACCEPT and DECLINE are both legal in SENT and each forecloses the
	// other, so the row lock must let exactly one through.
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		req := f.createRequest(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = f.service.ApplyEvent(context.Background(), f.seller, Command{RequestID: req.RequestID, Event: request.EventAccept})
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.service.ApplyEvent(context.Background(), f.seller, Command{RequestID: req.RequestID, Event: request.EventDecline})
		}()
		wg.Wait()

		failures := 0
		for _, err := range errs {
			if err != nil {
				failures++
				assert.ErrorIs(t, err, request.ErrConflict)
			}
		}
		require.Equal(t, 1, failures, "exactly one of the racing events must lose")

		final := f.store.requests[req.RequestID].Status
		assert.Contains(t, []request.Status{request.StatusAccepted, request.StatusDeclined}, final)
		assert.Equal(t, int64(2), f.store.requests[req.RequestID].Version)
	}
}

func TestConcurrentCreateRequestsBothLand(t *testing.T) {
	f := newFixture(t)

	other := Actor{UserID: uuid.New(), Role: user.RoleStudent}
	f.store.users[other.UserID] = &user.User{
		UserID:    other.UserID,
		Status:    user.StatusActive,
		CreatedAt: time.Now().UTC().AddDate(-1, 0, 0),
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.service.CreateRequest(context.Background(), f.buyer, f.listing.ListingID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.service.CreateRequest(context.Background(), other, f.listing.ListingID)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, listing.StatusInterestReceived, f.store.listings[f.listing.ListingID].Status)
	assert.Len(t, f.store.requests, 2)
}

func TestRollbackOnListingDesync(t *testing.T) {
	f := newFixture(t)
	req := f.createRequest(t)

	// Force the listing into a state where the accept cascade is illegal.
	f.store.listings[f.listing.ListingID].Status = listing.StatusArchived

	_, err := f.service.ApplyEvent(context.Background(), f.seller, Command{RequestID: req.RequestID, Event: request.EventAccept})
	require.Error(t, err)

	assert.Equal(t, request.StatusSent, f.store.requests[req.RequestID].Status, "request write must roll back with the cascade")
	assert.Equal(t, int64(1), f.store.requests[req.RequestID].Version)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "conflict", outcomeOf(request.ErrConflict))
	assert.Equal(t, "conflict", outcomeOf(&request.VersionConflictError{}))
	assert.Equal(t, "forbidden", outcomeOf(request.ErrForbidden))
	assert.Equal(t, "not_found", outcomeOf(request.ErrNotFound))
	assert.Equal(t, "not_found", outcomeOf(listing.ErrNotFound))
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
}
