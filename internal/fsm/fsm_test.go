package fsm

import (
	"errors"
	"testing"
)

type tState = string

type tEvent = string

func lightDefinition() *Definition[tState, tEvent] {
	return &Definition[tState, tEvent]{
		ID:      "traffic-light",
		Initial: "RED",
		Table: map[tState]map[tEvent]tState{
			"RED":    {"GO": "GREEN"},
			"GREEN":  {"CAUTION": "YELLOW"},
			"YELLOW": {"STOP": "RED", "GO": "GREEN"},
			"BROKEN": {},
		},
	}
}

func TestNewStartsAtInitial(t *testing.T) {
	m := New(lightDefinition())
	if m.State() != "RED" {
		t.Fatalf("expected RED, got %s", m.State())
	}
	if len(m.History()) != 0 {
		t.Fatalf("expected empty history")
	}
}

func TestSendFollowsTable(t *testing.T) {
	m := New(lightDefinition())
	m2, err := m.Send("GO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m2.State() != "GREEN" {
		t.Fatalf("expected GREEN, got %s", m2.State())
	}
	// receiver is untouched
	if m.State() != "RED" {
		t.Fatalf("send mutated receiver: %s", m.State())
	}
}

func TestSendUnknownEventFails(t *testing.T) {
	m := New(lightDefinition())
	_, err := m.Send("STOP")
	if err == nil {
		t.Fatal("expected error")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if ite.MachineID != "traffic-light" || ite.State != "RED" || ite.Event != "STOP" {
		t.Fatalf("unexpected error fields: %+v", ite)
	}
}

func TestHistoryAccumulates(t *testing.T) {
	m := New(lightDefinition())
	events := []tEvent{"GO", "CAUTION", "STOP", "GO"}
	for _, e := range events {
		next, err := m.Send(e)
		if err != nil {
			t.Fatalf("send %s: %v", e, err)
		}
		m = next
	}
	h := m.History()
	if len(h) != len(events) {
		t.Fatalf("expected %d entries, got %d", len(events), len(h))
	}
	want := []Entry[tState, tEvent]{
		{Event: "GO", From: "RED", To: "GREEN"},
		{Event: "CAUTION", From: "GREEN", To: "YELLOW"},
		{Event: "STOP", From: "YELLOW", To: "RED"},
		{Event: "GO", From: "RED", To: "GREEN"},
	}
	for i, e := range want {
		if h[i] != e {
			t.Fatalf("entry %d: expected %+v, got %+v", i, e, h[i])
		}
	}
}

func TestHistoryBranchesDoNotAlias(t *testing.T) {
	m := New(lightDefinition())
	m, _ = m.Send("GO")
	m, _ = m.Send("CAUTION")
	a, _ := m.Send("STOP")
	b, _ := m.Send("GO")
	ha, hb := a.History(), b.History()
	if ha[2].To != "RED" || hb[2].To != "GREEN" {
		t.Fatalf("branched histories overlap: %+v vs %+v", ha[2], hb[2])
	}
}

func TestCanIsPure(t *testing.T) {
	m := New(lightDefinition())
	for i := 0; i < 5; i++ {
		if !m.Can("GO") {
			t.Fatal("expected GO to be available")
		}
		if m.Can("STOP") {
			t.Fatal("expected STOP to be unavailable")
		}
	}
	m2, err := m.Send("GO")
	if err != nil || m2.State() != "GREEN" {
		t.Fatalf("can affected send: %v %s", err, m2.State())
	}
}

func TestAvailableEvents(t *testing.T) {
	m := Rehydrate(lightDefinition(), "YELLOW", nil)
	got := m.AvailableEvents()
	if len(got) != 2 || got[0] != "GO" || got[1] != "STOP" {
		t.Fatalf("unexpected events: %v", got)
	}
	terminal := Rehydrate(lightDefinition(), "BROKEN", nil)
	if len(terminal.AvailableEvents()) != 0 {
		t.Fatal("expected no events for terminal state")
	}
}

func TestRehydrateRestoresHistory(t *testing.T) {
	history := []Entry[tState, tEvent]{{Event: "GO", From: "RED", To: "GREEN"}}
	m := Rehydrate(lightDefinition(), "GREEN", history)
	if m.State() != "GREEN" {
		t.Fatalf("expected GREEN, got %s", m.State())
	}
	m2, err := m.Send("CAUTION")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m2.History()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m2.History()))
	}
}
