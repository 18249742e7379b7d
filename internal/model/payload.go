package model

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies which kind of syncable record a payload or queue
// operation targets.
type EntityType string

const (
	// TypeEntry targets a RewardEntry.
	TypeEntry EntityType = "entry"
	// TypeCategory targets a Category.
	TypeCategory EntityType = "category"
)

// ParseEntityType validates a wire-level entity type string.
// Anything outside the closed set is a construction-time error.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case TypeEntry, TypeCategory:
		return EntityType(s), nil
	default:
		return "", fmt.Errorf("unknown entity type %q", s)
	}
}

// Payload is the tagged union carried by a sync queue operation: a
// self-contained snapshot of the intended entity state at enqueue time.
// Exactly one variant is set, matching Type. Serialization to JSON happens
// only at the store boundary; everything else works with the typed variants.
type Payload struct {
	Type     EntityType
	Entry    *RewardEntry
	Category *Category
}

// EntryPayload builds a payload snapshotting a reward entry.
// The entry is copied so later edits to the original don't leak into
// the queued snapshot.
func EntryPayload(e *RewardEntry) Payload {
	cp := *e
	return Payload{Type: TypeEntry, Entry: &cp}
}

// CategoryPayload builds a payload snapshotting a category.
func CategoryPayload(c *Category) Payload {
	cp := *c
	return Payload{Type: TypeCategory, Category: &cp}
}

// Validate checks that the payload carries exactly the variant its tag names.
func (p Payload) Validate() error {
	switch p.Type {
	case TypeEntry:
		if p.Entry == nil {
			return fmt.Errorf("entry payload has no entry")
		}
		return p.Entry.Validate()
	case TypeCategory:
		if p.Category == nil {
			return fmt.Errorf("category payload has no category")
		}
		return p.Category.Validate()
	default:
		return fmt.Errorf("unknown entity type %q", p.Type)
	}
}

// EntityID returns the ID of the wrapped entity.
func (p Payload) EntityID() string {
	switch p.Type {
	case TypeEntry:
		if p.Entry != nil {
			return p.Entry.ID
		}
	case TypeCategory:
		if p.Category != nil {
			return p.Category.ID
		}
	}
	return ""
}

// Marshal serializes the payload variant for durable queue storage.
func (p Payload) Marshal() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	switch p.Type {
	case TypeEntry:
		data, err := json.Marshal(p.Entry)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entry payload: %w", err)
		}
		return data, nil
	default:
		data, err := json.Marshal(p.Category)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal category payload: %w", err)
		}
		return data, nil
	}
}

// UnmarshalPayload reconstructs a typed payload from queue storage.
func UnmarshalPayload(typ EntityType, data []byte) (Payload, error) {
	switch typ {
	case TypeEntry:
		var e RewardEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return Payload{}, fmt.Errorf("failed to parse entry payload: %w", err)
		}
		return Payload{Type: TypeEntry, Entry: &e}, nil
	case TypeCategory:
		var c Category
		if err := json.Unmarshal(data, &c); err != nil {
			return Payload{}, fmt.Errorf("failed to parse category payload: %w", err)
		}
		return Payload{Type: TypeCategory, Category: &c}, nil
	default:
		return Payload{}, fmt.Errorf("unknown entity type %q", typ)
	}
}
