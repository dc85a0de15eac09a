package fsm

import (
	"fmt"
	"sort"
)

// Definition is an immutable state-machine table: for each state, the set of
// events with a defined edge and the state each edge leads to. Definitions are
// built once per domain and shared; they are never mutated at runtime.
type Definition[S ~string, E ~string] struct {
	ID      string
	Initial S
	Table   map[S]map[E]S
}

// Entry records one taken transition.
type Entry[S ~string, E ~string] struct {
	Event E `json:"event"`
	From  S `json:"from"`
	To    S `json:"to"`
}

// InvalidTransitionError is returned by Send when the current state has no
// edge for the given event. It carries the machine id, state and event for
// diagnostics and audit.
type InvalidTransitionError struct {
	MachineID string
	State     string
	Event     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: machine=%s state=%s event=%s", e.MachineID, e.State, e.Event)
}

// Machine is an immutable instance of a Definition. Send returns a new
// Machine; the receiver is never mutated, so instances are safe to share.
type Machine[S ~string, E ~string] struct {
	def     *Definition[S, E]
	state   S
	history []Entry[S, E]
}

// New builds a machine at the definition's initial state with empty history.
func New[S ~string, E ~string](def *Definition[S, E]) Machine[S, E] {
	return Machine[S, E]{def: def, state: def.Initial}
}

// Rehydrate builds a machine at a persisted state, optionally restoring a
// persisted history.
func Rehydrate[S ~string, E ~string](def *Definition[S, E], state S, history []Entry[S, E]) Machine[S, E] {
	h := make([]Entry[S, E], len(history))
	copy(h, history)
	return Machine[S, E]{def: def, state: state, history: h}
}

// State returns the current state.
func (m Machine[S, E]) State() S {
	return m.state
}

// History returns a copy of the transitions taken so far, in order.
func (m Machine[S, E]) History() []Entry[S, E] {
	h := make([]Entry[S, E], len(m.history))
	copy(h, m.history)
	return h
}

// Can reports whether the current state has an edge for event.
func (m Machine[S, E]) Can(event E) bool {
	row, ok := m.def.Table[m.state]
	if !ok {
		return false
	}
	_, ok = row[event]
	return ok
}

// AvailableEvents returns the events with a defined edge from the current
// state, sorted for determinism. An empty result means the state is terminal.
func (m Machine[S, E]) AvailableEvents() []E {
	row := m.def.Table[m.state]
	events := make([]E, 0, len(row))
	for e := range row {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// Send applies event and returns the resulting machine. If the current state
// has no edge for event it returns the receiver unchanged along with an
// *InvalidTransitionError.
func (m Machine[S, E]) Send(event E) (Machine[S, E], error) {
	next, ok := m.def.Table[m.state][event]
	if !ok {
		return m, &InvalidTransitionError{
			MachineID: m.def.ID,
			State:     string(m.state),
			Event:     string(event),
		}
	}
	history := make([]Entry[S, E], len(m.history), len(m.history)+1)
	copy(history, m.history)
	history = append(history, Entry[S, E]{Event: event, From: m.state, To: next})
	return Machine[S, E]{def: m.def, state: next, history: history}, nil
}
