// Package model contains the records shared by the intake, worker and status
// packages. Items and results are separate keyed records; nothing here holds
// a live reference from one to the other.
package model

import (
	"fmt"
	"time"
)

// ItemState describes the analysis lifecycle of a submitted item.
type ItemState string

const (
	StateSubmitted  ItemState = "submitted"
	StateProcessing ItemState = "processing"
	StateCompleted  ItemState = "completed"
	StateFailed     ItemState = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s ItemState) Valid() bool {
	switch s {
	case StateSubmitted, StateProcessing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s ItemState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseItemState converts a stored value into an ItemState, rejecting anything
// outside the lifecycle.
func ParseItemState(v string) (ItemState, error) {
	s := ItemState(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown item state %q", v)
	}
	return s, nil
}

// SubClassification is the stroke being analysed.
type SubClassification string

const (
	Forehand SubClassification = "forehand"
	Backhand SubClassification = "backhand"
)

// Orientation is the player's handedness.
type Orientation string

const (
	RightHanded Orientation = "right"
	LeftHanded  Orientation = "left"
)

// ViewAngle is the optional camera position. The zero value means unknown.
type ViewAngle string

const (
	ViewSide  ViewAngle = "side"
	ViewFront ViewAngle = "front"
)

// Item is a submitted unit of work. ID is assigned at creation and never
// changes; MediaRef points at content the storage layer already holds.
type Item struct {
	ID                string            `json:"itemId"`
	Category          string            `json:"category"`
	SubClassification SubClassification `json:"subClassification"`
	Orientation       Orientation       `json:"orientation"`
	ViewAngle         ViewAngle         `json:"viewAngle,omitempty"`
	MediaRef          string            `json:"mediaReference"`
	State             ItemState         `json:"state"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}
