// Package queue defines message payloads exchanged over the message broker
// and the consumer that bridges them into per-user realtime delivery.
package queue

// MatchCreatedEvent is published by the mutual-like detector immediately
// after the match and its two reveal rows commit. The payload is
// deliberately thin: the consumer hydrates display data from the store so
// the broker message can never go stale relative to the rows.
type MatchCreatedEvent struct {
	EventID string `json:"event_id"`
	MatchID uint64 `json:"match_id"`
}

// RevealReadyEvent is the transient delivery event fanned out on the
// owner's private channel. It is not an entity of record; its loss is
// expected and compensated for by the recovery query.
type RevealReadyEvent struct {
	RevealID      uint64    `json:"reveal_id"`
	MatchID       uint64    `json:"match_id"`
	VideoSnapshot *string   `json:"video_snapshot,omitempty"`
	OtherUser     EventUser `json:"other_user"`
}

// EventUser carries the other participant's display fields inside a
// delivery event, matching the recovery payload shape.
type EventUser struct {
	ID    uint64  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
	City  *string `json:"city,omitempty"`
}
