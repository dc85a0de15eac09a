//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/campusswap/campusswap/internal/api/http"
	"github.com/campusswap/campusswap/internal/application/audit"
	"github.com/campusswap/campusswap/internal/application/auth"
	"github.com/campusswap/campusswap/internal/application/dispute"
	"github.com/campusswap/campusswap/internal/application/exchange"
	"github.com/campusswap/campusswap/internal/application/listing"
	"github.com/campusswap/campusswap/internal/application/user"
	"github.com/campusswap/campusswap/internal/domain/trust"
	domainUser "github.com/campusswap/campusswap/internal/domain/user"
	"github.com/campusswap/campusswap/internal/infrastructure/keyvalue"
	"github.com/campusswap/campusswap/internal/infrastructure/postgres"
)

const testPassword = "S3cure!Passw0rd"

type userResponse struct {
	UserID             string `json:"userId"`
	Username           string `json:"username"`
	Role               string `json:"role"`
	CompletedExchanges int    `json:"completedExchanges"`
}

type listingResponse struct {
	ListingID string `json:"listingId"`
	Status    string `json:"status"`
}

type requestResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Version   int64  `json:"version"`
}

type disputeResponse struct {
	DisputeID string `json:"disputeId"`
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

func TestExchangeLifecycleIntegration(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	registerUser(t, env.server.URL, "admin-user")
	promoteToAdmin(t, env, "admin-user")
	admin := loginClient(t, env.server.URL, "admin-user")
	seller := newAuthedClient(t, env, "seller-user")
	buyer := newAuthedClient(t, env, "buyer-user")

	// seller publishes a listing through review
	var created listingResponse
	postJSON(t, seller, env.server.URL+"/v1/listings", map[string]interface{}{
		"title":       "calculus textbook",
		"price_cents": 2500,
	}, &created)
	if created.Status != "DRAFT" {
		t.Fatalf("expected DRAFT listing, got %s", created.Status)
	}

	listingURL := env.server.URL + "/v1/listings/" + created.ListingID
	var afterSubmit listingResponse
	postJSON(t, seller, listingURL+"/events", map[string]string{"event": "SUBMIT"}, &afterSubmit)
	if afterSubmit.Status != "PENDING_REVIEW" {
		t.Fatalf("expected PENDING_REVIEW, got %s", afterSubmit.Status)
	}

	var approved listingResponse
	postJSON(t, admin, listingURL+"/events", map[string]string{"event": "APPROVE"}, &approved)
	if approved.Status != "APPROVED" {
		t.Fatalf("expected APPROVED, got %s", approved.Status)
	}

	// buyer requests the listing; the same idempotency key replays the
	// first response instead of creating a second request
	var req requestResponse
	resp := doJSON(t, buyer, http.MethodPost, env.server.URL+"/v1/requests",
		map[string]string{"listing_id": created.ListingID},
		map[string]string{"Idempotency-Key": "req-1"}, &req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d", resp.StatusCode)
	}
	if req.Status != "SENT" || req.Version != 1 {
		t.Fatalf("expected SENT v1, got %s v%d", req.Status, req.Version)
	}

	var replayed requestResponse
	resp = doJSON(t, buyer, http.MethodPost, env.server.URL+"/v1/requests",
		map[string]string{"listing_id": created.ListingID},
		map[string]string{"Idempotency-Key": "req-1"}, &replayed)
	if resp.Header.Get("Idempotency-Replay") != "true" {
		t.Fatalf("expected replayed response")
	}
	if replayed.RequestID != req.RequestID {
		t.Fatalf("replay returned a different request")
	}

	requestURL := env.server.URL + "/v1/requests/" + req.RequestID

	// seller accepts; the listing moves into transaction
	var accepted requestResponse
	postJSON(t, seller, requestURL+"/events", map[string]interface{}{
		"event":            "ACCEPT",
		"expected_version": 1,
	}, &accepted)
	if accepted.Status != "ACCEPTED" || accepted.Version != 2 {
		t.Fatalf("expected ACCEPTED v2, got %s v%d", accepted.Status, accepted.Version)
	}

	var inTransaction listingResponse
	getJSON(t, seller, listingURL, &inTransaction)
	if inTransaction.Status != "IN_TRANSACTION" {
		t.Fatalf("expected IN_TRANSACTION listing, got %s", inTransaction.Status)
	}

	// stale version is rejected with the current version attached
	resp = doJSON(t, seller, http.MethodPost, requestURL+"/events", map[string]interface{}{
		"event":            "ACCEPT",
		"expected_version": 1,
	}, nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on stale version, got %d", resp.StatusCode)
	}

	var scheduled requestResponse
	postJSON(t, buyer, requestURL+"/events", map[string]interface{}{
		"event":            "SCHEDULE",
		"expected_version": 2,
	}, &scheduled)
	if scheduled.Status != "MEETING_SCHEDULED" {
		t.Fatalf("expected MEETING_SCHEDULED, got %s", scheduled.Status)
	}

	var completed requestResponse
	postJSON(t, buyer, requestURL+"/events", map[string]interface{}{
		"event":            "CONFIRM",
		"expected_version": 3,
	}, &completed)
	if completed.Status != "COMPLETED" || completed.Version != 4 {
		t.Fatalf("expected COMPLETED v4, got %s v%d", completed.Status, completed.Version)
	}

	var done listingResponse
	getJSON(t, buyer, listingURL, &done)
	if done.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED listing, got %s", done.Status)
	}

	// completion credits both parties
	var me userResponse
	getJSON(t, buyer, env.server.URL+"/v1/auth/me", &me)
	if me.CompletedExchanges != 1 {
		t.Fatalf("expected 1 completed exchange, got %d", me.CompletedExchanges)
	}

	// the transition trail is queryable by admins
	var trail struct {
		Logs []struct {
			Action string `json:"action"`
		} `json:"logs"`
	}
	getJSON(t, admin, env.server.URL+"/v1/admin/audit?entity_type=REQUEST&entity_id="+req.RequestID, &trail)
	if len(trail.Logs) < 4 {
		t.Fatalf("expected at least 4 audit entries, got %d", len(trail.Logs))
	}
}

func TestDisputeResolutionIntegration(t *testing.T) {
	env, cleanup := newTestServer(t)
	defer cleanup()

	registerUser(t, env.server.URL, "dispute-admin")
	promoteToAdmin(t, env, "dispute-admin")
	admin := loginClient(t, env.server.URL, "dispute-admin")
	seller := newAuthedClient(t, env, "dispute-seller")
	buyer := newAuthedClient(t, env, "dispute-buyer")

	var created listingResponse
	postJSON(t, seller, env.server.URL+"/v1/listings", map[string]interface{}{
		"title":       "desk lamp",
		"price_cents": 900,
	}, &created)
	listingURL := env.server.URL + "/v1/listings/" + created.ListingID
	postJSON(t, seller, listingURL+"/events", map[string]string{"event": "SUBMIT"}, nil)
	postJSON(t, admin, listingURL+"/events", map[string]string{"event": "APPROVE"}, nil)

	var req requestResponse
	postJSON(t, buyer, env.server.URL+"/v1/requests", map[string]string{"listing_id": created.ListingID}, &req)
	requestURL := env.server.URL + "/v1/requests/" + req.RequestID
	postJSON(t, seller, requestURL+"/events", map[string]interface{}{"event": "ACCEPT", "expected_version": 1}, nil)

	var disputed requestResponse
	postJSON(t, buyer, requestURL+"/events", map[string]interface{}{
		"event":            "DISPUTE",
		"expected_version": 2,
		"reason":           "item not as described",
	}, &disputed)
	if disputed.Status != "DISPUTED" {
		t.Fatalf("expected DISPUTED, got %s", disputed.Status)
	}

	var listed struct {
		Disputes []disputeResponse `json:"disputes"`
	}
	getJSON(t, admin, env.server.URL+"/v1/disputes?request_id="+req.RequestID, &listed)
	if len(listed.Disputes) != 1 {
		t.Fatalf("expected a single open dispute, got %d", len(listed.Disputes))
	}
	d := listed.Disputes[0]
	if d.Status != "OPEN" {
		t.Fatalf("expected OPEN dispute, got %s", d.Status)
	}

	disputeURL := env.server.URL + "/v1/disputes/" + d.DisputeID

	var reviewed disputeResponse
	postJSON(t, admin, disputeURL+"/review", nil, &reviewed)
	if reviewed.Status != "UNDER_REVIEW" {
		t.Fatalf("expected UNDER_REVIEW, got %s", reviewed.Status)
	}

	var closed disputeResponse
	postJSON(t, admin, disputeURL+"/close", map[string]string{
		"outcome": "RESOLVE",
		"note":    "refunded in person",
	}, &closed)
	if closed.Status != "RESOLVED" {
		t.Fatalf("expected RESOLVED dispute, got %s", closed.Status)
	}

	var final requestResponse
	getJSON(t, buyer, requestURL, &final)
	if final.Status != "RESOLVED" {
		t.Fatalf("expected RESOLVED request, got %s", final.Status)
	}
}

type testEnv struct {
	server *httptest.Server
	users  *user.Service
}

func newTestServer(t *testing.T) (*testEnv, func()) {
	t.Helper()
	dsn := testDatabaseURL(t)

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}

	root := repoRoot(t)
	if err := postgres.RunMigrations(ctx, pool, filepath.Join(root, "internal", "migrations")); err != nil {
		pool.Close()
		t.Fatalf("migrations: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}

	logger := zerolog.Nop()
	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	listingRepo := postgres.NewListingRepository(pool)
	requestRepo := postgres.NewRequestRepository(pool)
	disputeRepo := postgres.NewDisputeRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	exchangeStore := postgres.NewExchangeStore(pool)

	trustEngine, err := trust.NewEngine(trust.DefaultRules())
	if err != nil {
		pool.Close()
		t.Fatalf("trust rules: %v", err)
	}

	auditSvc := audit.NewService(auditRepo, logger)
	userSvc := user.NewService(userRepo, logger)
	authSvc := auth.NewService(userRepo, sessionRepo, auditRepo, 24*time.Hour, logger)
	listingSvc := listing.NewService(listingRepo, auditRepo, nil, logger)
	exchangeSvc := exchange.NewService(exchangeStore, userRepo, trustEngine, nil, logger)
	disputeSvc := dispute.NewService(disputeRepo, exchangeSvc, auditRepo, logger)

	apiServer := httpapi.NewServer(
		exchangeSvc,
		listingSvc,
		disputeSvc,
		auditSvc,
		authSvc,
		userSvc,
		requestRepo,
		keyvalue.NewMemoryStore(),
		nil,
		nil,
		"campusswap_session",
		false,
	)
	server := httptest.NewServer(apiServer.Router())

	env := &testEnv{server: server, users: userSvc}
	cleanup := func() {
		server.Close()
		pool.Close()
	}
	return env, cleanup
}

func promoteToAdmin(t *testing.T, env *testEnv, username string) {
	t.Helper()
	ctx := context.Background()
	u, err := env.users.GetByUsername(ctx, username)
	if err != nil {
		t.Fatalf("get user %s: %v", username, err)
	}
	if _, err := env.users.SetRole(ctx, u.UserID, domainUser.RoleAdmin); err != nil {
		t.Fatalf("promote %s: %v", username, err)
	}
}

func newAuthedClient(t *testing.T, env *testEnv, username string) *http.Client {
	t.Helper()
	registerUser(t, env.server.URL, username)
	return loginClient(t, env.server.URL, username)
}

func registerUser(t *testing.T, baseURL, username string) {
	t.Helper()
	payload := map[string]string{"username": username, "password": testPassword}
	data, _ := json.Marshal(payload)
	resp, err := http.Post(baseURL+"/v1/auth/register", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("register status %d: %s", resp.StatusCode, string(body))
	}
}

func loginClient(t *testing.T, baseURL, username string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Timeout: 10 * time.Second, Jar: jar}
	postJSON(t, client, baseURL+"/v1/auth/login", map[string]string{
		"username": username,
		"password": testPassword,
	}, nil)
	return client
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}, out interface{}) {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, url, body, nil, out)
	if resp.StatusCode >= 300 {
		t.Fatalf("post %s status %d", url, resp.StatusCode)
	}
}

func getJSON(t *testing.T, client *http.Client, url string, out interface{}) {
	t.Helper()
	resp := doJSON(t, client, http.MethodGet, url, nil, nil, out)
	if resp.StatusCode >= 300 {
		t.Fatalf("get %s status %d", url, resp.StatusCode)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body interface{}, headers map[string]string, out interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, string(data))
		}
	}
	return resp
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			audit_logs,
			disputes,
			requests,
			listings,
			sessions,
			users
		RESTART IDENTITY CASCADE
	`)
	return err
}
