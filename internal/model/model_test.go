package model

import (
	"testing"
	"time"
)

func validEntry() *RewardEntry {
	now := time.Now().UTC()
	return &RewardEntry{
		ID:          "e-1",
		OwnerID:     "owner-1",
		Description: "Took out the trash",
		Points:      5,
		CategoryID:  "cat-1",
		EarnedAt:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     0,
		SyncStatus:  StatusDirty,
	}
}

// TestEntryValidate_Success tests that a fully populated entry validates.
func TestEntryValidate_Success(t *testing.T) {
	if err := validEntry().Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
}

// TestEntryValidate_MissingFields tests required-field enforcement.
func TestEntryValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RewardEntry)
	}{
		{"missing id", func(e *RewardEntry) { e.ID = "" }},
		{"missing owner", func(e *RewardEntry) { e.OwnerID = "" }},
		{"missing description", func(e *RewardEntry) { e.Description = "" }},
		{"negative version", func(e *RewardEntry) { e.Version = -1 }},
		{"bad sync status", func(e *RewardEntry) { e.SyncStatus = "pending" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(e)
			if err := e.Validate(); err == nil {
				t.Errorf("Validate() succeeded, want error")
			}
		})
	}
}

// TestEntryTouch tests version increment and dirty marking.
func TestEntryTouch(t *testing.T) {
	e := validEntry()
	e.SyncStatus = StatusSynced

	e.Touch()

	if e.Version != 1 {
		t.Errorf("Version = %d, want 1", e.Version)
	}
	if e.SyncStatus != StatusDirty {
		t.Errorf("SyncStatus = %q, want %q", e.SyncStatus, StatusDirty)
	}
}

// TestEntrySetDefaults tests defaulting of optional fields.
func TestEntrySetDefaults(t *testing.T) {
	e := &RewardEntry{ID: "e-1", OwnerID: "o-1", Description: "x"}
	e.SetDefaults()

	if e.SyncStatus != StatusDirty {
		t.Errorf("SyncStatus = %q, want %q", e.SyncStatus, StatusDirty)
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() || e.EarnedAt.IsZero() {
		t.Error("timestamps not defaulted")
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() after SetDefaults failed: %v", err)
	}

	// A missing ID gets a generated one.
	e2 := &RewardEntry{OwnerID: "o-1", Description: "x"}
	e2.SetDefaults()
	if e2.ID == "" {
		t.Error("ID not generated")
	}
}

// TestCategoryValidate tests category field validation.
func TestCategoryValidate(t *testing.T) {
	c := &Category{
		ID:         "cat-1",
		OwnerID:    "owner-1",
		Name:       "Chores",
		SyncStatus: StatusSynced,
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	c.Name = ""
	if err := c.Validate(); err == nil {
		t.Error("Validate() succeeded with empty name, want error")
	}
}

// TestParseEntityType tests the closed entity type set.
func TestParseEntityType(t *testing.T) {
	for _, valid := range []string{"entry", "category"} {
		if _, err := ParseEntityType(valid); err != nil {
			t.Errorf("ParseEntityType(%q) failed: %v", valid, err)
		}
	}
	if _, err := ParseEntityType("reward"); err == nil {
		t.Error("ParseEntityType(\"reward\") succeeded, want error")
	}
}

// TestPayloadRoundTrip tests that a payload snapshot survives queue storage.
func TestPayloadRoundTrip(t *testing.T) {
	e := validEntry()
	p := EntryPayload(e)

	// Snapshot semantics: mutating the source after capture must not
	// change the payload.
	e.Points = 999

	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	got, err := UnmarshalPayload(TypeEntry, data)
	if err != nil {
		t.Fatalf("UnmarshalPayload() failed: %v", err)
	}
	if got.Entry == nil {
		t.Fatal("UnmarshalPayload() returned nil entry")
	}
	if got.Entry.Points != 5 {
		t.Errorf("Points = %d, want snapshot value 5", got.Entry.Points)
	}
	if got.Entry.ID != "e-1" {
		t.Errorf("ID = %q, want %q", got.Entry.ID, "e-1")
	}
}

// TestPayloadValidate_MismatchedVariant tests tag/variant agreement.
func TestPayloadValidate_MismatchedVariant(t *testing.T) {
	p := Payload{Type: TypeEntry}
	if err := p.Validate(); err == nil {
		t.Error("Validate() succeeded with nil entry, want error")
	}

	p = Payload{Type: "household", Entry: validEntry()}
	if err := p.Validate(); err == nil {
		t.Error("Validate() succeeded with unknown type, want error")
	}
}
