package dispute

import (
	"errors"
	"testing"

	"github.com/campusswap/campusswap/internal/fsm"
)

var allStatuses = []Status{StatusOpen, StatusUnderReview, StatusResolved, StatusRejected, StatusEscalated}

var allEvents = []Event{EventBeginReview, EventResolve, EventReject, EventEscalate}

func TestDisputeTableExhaustive(t *testing.T) {
	def := Definition()
	for _, status := range allStatuses {
		row := def.Table[status]
		for _, event := range allEvents {
			m := Machine(status)
			target, defined := row[event]
			next, err := m.Send(event)
			if defined {
				if err != nil || next.State() != target {
					t.Fatalf("%s/%s: expected %s, got %s (%v)", status, event, target, next.State(), err)
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

func TestReviewScenario(t *testing.T) {
	m := Machine(StatusOpen)
	m, err := m.Send(EventBeginReview)
	if err != nil || m.State() != StatusUnderReview {
		t.Fatalf("BEGIN_REVIEW: %v %s", err, m.State())
	}
	m, err = m.Send(EventResolve)
	if err != nil || m.State() != StatusResolved {
		t.Fatalf("RESOLVE: %v %s", err, m.State())
	}
	// RESOLVED is absorbing: a second review attempt must fail.
	if _, err := m.Send(EventBeginReview); err == nil {
		t.Fatal("expected error sending BEGIN_REVIEW to RESOLVED dispute")
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[Status]bool{StatusResolved: true, StatusRejected: true, StatusEscalated: true}
	for _, s := range allStatuses {
		if IsTerminal(s) != terminal[s] {
			t.Fatalf("%s: IsTerminal=%v, expected %v", s, IsTerminal(s), terminal[s])
		}
	}
}
