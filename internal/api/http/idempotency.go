package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/campusswap/campusswap/internal/infrastructure/keyvalue"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotency-Replay"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = time.Minute
)

// ReplayRecorder counts responses served from the idempotency store
// instead of being executed again.
type ReplayRecorder interface {
	RecordIdempotentReplay()
}

// storedResponse is the serialized outcome of a completed request. A
// record with Status 0 is an in-flight marker: the original request is
// still executing and duplicates must back off.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// responseRecorder buffers the handler's response so it can be both
// sent to the client and persisted for replay.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotent deduplicates mutating requests that carry an
// Idempotency-Key header. The key is scoped to the authenticated user
// and route, so two users reusing the same key never collide. The
// first request claims the key with an in-flight marker; its final
// response replaces the marker and is replayed verbatim to retries.
// Server errors release the key so the client can try again.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || s.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		authUser := authUserFromContext(r.Context())
		if authUser == nil {
			next.ServeHTTP(w, r)
			return
		}

		storeKey := fmt.Sprintf("idem:%s:%s:%s:%s", authUser.UserID, r.Method, r.URL.Path, key)
		ctx := r.Context()

		marker, err := json.Marshal(storedResponse{Status: 0})
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}

		claimed, err := s.idempotency.SetNX(ctx, storeKey, marker, inFlightTTL)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}

		if !claimed {
			raw, err := s.idempotency.Get(ctx, storeKey)
			if errors.Is(err, keyvalue.ErrNotFound) {
				// the original in-flight marker expired between SetNX
				// and Get; treat the retry as a fresh request
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
				return
			}
			var stored storedResponse
			if err := json.Unmarshal(raw, &stored); err != nil {
				respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
				return
			}
			if stored.Status == 0 {
				respondError(w, http.StatusConflict, "IN_FLIGHT", "a request with this idempotency key is still being processed")
				return
			}
			if s.replays != nil {
				s.replays.RecordIdempotentReplay()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayHeader, "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			_ = s.idempotency.Delete(ctx, storeKey)
			return
		}

		record, err := json.Marshal(storedResponse{Status: rec.status, Body: rec.body.Bytes()})
		if err != nil {
			_ = s.idempotency.Delete(ctx, storeKey)
			return
		}
		_ = s.idempotency.Set(ctx, storeKey, record, idempotencyTTL)
	})
}
