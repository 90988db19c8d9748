// Package lattice holds the ordered set of queue item statuses and the
// rules for moving between them.
//
// The order is
//
//	pending < sent < connection_accepted < pitch_pending < pitch_sent < replied
//
// with failed standing outside of it. Reconciliation may only move an item
// forward along this order; a weaker backend status is ignored.
package lattice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeventeLantos/outreach-engine/internal/model"
)

var ErrIllegalTransition = errors.New("illegal status transition")

var ranks = map[model.Status]int{
	model.Pending:            0,
	model.Sent:               1,
	model.ConnectionAccepted: 2,
	model.PitchPending:       3,
	model.PitchSent:          4,
	model.Replied:            5,
}

// Rank returns the position of s in the order. Failed and unknown statuses
// rank -1.
func Rank(s model.Status) int {
	r, ok := ranks[s]
	if !ok {
		return -1
	}
	return r
}

// Allowed reports whether an item of type mt may ever hold status s.
// connection_only items skip the pitch states and direct messages never
// pass through acceptance.
func Allowed(mt model.MessageType, s model.Status) bool {
	switch s {
	case model.Pending, model.Sent, model.Replied, model.Failed:
		return true
	case model.ConnectionAccepted:
		return mt.Flow() == model.FlowConnection
	case model.PitchPending, model.PitchSent:
		return mt == model.ConnectionRequest
	}
	return false
}

// Tracked reports whether s is sent or beyond, i.e. the item has been
// handed to the provider and its further progress is observed remotely.
func Tracked(s model.Status) bool {
	return Rank(s) >= Rank(model.Sent)
}

// Terminal statuses are left alone by both dispatch and reconciliation.
func Terminal(s model.Status) bool {
	return s == model.Replied || s == model.Failed
}

// Advance returns the status an item should hold after observing candidate.
// The second result is false when candidate does not move the item forward.
func Advance(mt model.MessageType, current, candidate model.Status) (model.Status, bool) {
	if !Tracked(current) || !Allowed(mt, candidate) {
		return current, false
	}
	if Rank(candidate) <= Rank(current) {
		return current, false
	}
	return candidate, true
}

// Max returns the stronger of two candidate statuses for mt, ignoring
// those mt can never hold.
func Max(mt model.MessageType, a, b model.Status) model.Status {
	if !Allowed(mt, b) || Rank(b) < 0 {
		return a
	}
	if !Allowed(mt, a) || Rank(a) < Rank(b) {
		return b
	}
	return a
}

// CheckDispatch validates a transition performed by the dispatcher.
func CheckDispatch(from, to model.Status) error {
	if from != model.Pending || (to != model.Sent && to != model.Failed) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// CheckRetry validates the manual failed -> pending transition.
func CheckRetry(from model.Status) error {
	if from != model.Failed {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, model.Pending)
	}
	return nil
}

// ParseBackend maps a tracker service status enum onto a local status.
// Unknown values report false.
func ParseBackend(raw string) (model.Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "QUEUED":
		return model.Pending, true
	case "SENT", "CONNECTION_SENT", "INVITED":
		return model.Sent, true
	case "CONNECTION_ACCEPTED", "ACCEPTED", "CONNECTED":
		return model.ConnectionAccepted, true
	case "PITCH_PENDING":
		return model.PitchPending, true
	case "PITCH_SENT":
		return model.PitchSent, true
	case "REPLIED":
		return model.Replied, true
	case "FAILED":
		return model.Failed, true
	}
	return "", false
}
