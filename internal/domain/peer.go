// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxBroadcasterIDLen = 64

var (
	ErrBroadcasterIDEmpty   = errors.New("broadcaster id empty")
	ErrBroadcasterIDTooLong = errors.New("broadcaster id too long")
)

// PeerID identifies one relay socket. Every participant, publisher or
// subscriber, gets exactly one.
type PeerID string

// BroadcasterID identifies a live publisher. A watcher must present the
// exact same id to request that stream.
type BroadcasterID string

// NewBroadcasterID provisions a unique id per broadcast.
func NewBroadcasterID() BroadcasterID {
	return BroadcasterID(uuid.NewString())
}

func ParseBroadcasterID(raw string) (BroadcasterID, error) {
	if len(raw) == 0 {
		return "", ErrBroadcasterIDEmpty
	}
	if len(raw) > MaxBroadcasterIDLen {
		return "", ErrBroadcasterIDTooLong
	}
	return BroadcasterID(raw), nil
}

type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}
