package listing

import (
	"errors"
	"testing"

	"github.com/campusswap/campusswap/internal/fsm"
)

var allStatuses = []Status{
	StatusDraft, StatusPendingReview, StatusApproved, StatusRejected,
	StatusInterestReceived, StatusInTransaction, StatusCompleted,
	StatusExpired, StatusFlagged, StatusArchived, StatusRemoved,
}

var allEvents = []Event{
	EventSubmit, EventApprove, EventReject, EventRevise, EventReceiveRequest,
	EventDeclineRequest, EventAcceptRequest, EventRelease, EventComplete,
	EventExpire, EventRelist, EventFlag, EventUnflag, EventRemove, EventArchive,
}

// Every (status, event) pair either follows the table exactly or fails with
// InvalidTransitionError.
func TestListingTableExhaustive(t *testing.T) {
	def := Definition()
	for _, status := range allStatuses {
		row := def.Table[status]
		for _, event := range allEvents {
			m := Machine(status)
			target, defined := row[event]
			if m.Can(event) != defined {
				t.Fatalf("%s/%s: Can=%v, table=%v", status, event, m.Can(event), defined)
			}
			next, err := m.Send(event)
			if defined {
				if err != nil {
					t.Fatalf("%s/%s: unexpected error: %v", status, event, err)
				}
				if next.State() != target {
					t.Fatalf("%s/%s: expected %s, got %s", status, event, target, next.State())
				}
				continue
			}
			var ite *fsm.InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("%s/%s: expected InvalidTransitionError, got %v", status, event, err)
			}
		}
	}
}

// ARCHIVED is the only state with no outbound edges.
func TestArchivedIsSoleTerminal(t *testing.T) {
	for _, status := range allStatuses {
		events := Machine(status).AvailableEvents()
		if status == StatusArchived {
			if len(events) != 0 {
				t.Fatalf("ARCHIVED should be terminal, has %v", events)
			}
			continue
		}
		if len(events) == 0 {
			t.Fatalf("%s has no outbound edges", status)
		}
	}
}

// FLAG is the admin safety valve from every active state.
func TestFlagReachableFromActiveStates(t *testing.T) {
	for _, status := range []Status{StatusApproved, StatusInterestReceived, StatusInTransaction} {
		if !Machine(status).Can(EventFlag) {
			t.Fatalf("FLAG not available from %s", status)
		}
	}
}

func TestDeclineReturnsToPoolWithoutReview(t *testing.T) {
	m := Machine(StatusInterestReceived)
	next, err := m.Send(EventDeclineRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.State() != StatusApproved {
		t.Fatalf("expected APPROVED, got %s", next.State())
	}
}

func TestRelistSkipsReview(t *testing.T) {
	m := Machine(StatusExpired)
	next, err := m.Send(EventRelist)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.State() != StatusApproved {
		t.Fatalf("expected APPROVED, got %s", next.State())
	}
}

func TestAdminOnlyEvents(t *testing.T) {
	adminOnly := map[Event]bool{
		EventApprove: true, EventReject: true, EventFlag: true,
		EventUnflag: true, EventRemove: true, EventExpire: true,
	}
	for _, e := range allEvents {
		if e.AdminOnly() != adminOnly[e] {
			t.Fatalf("%s: AdminOnly=%v, expected %v", e, e.AdminOnly(), adminOnly[e])
		}
	}
}
