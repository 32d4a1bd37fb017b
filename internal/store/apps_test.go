package store

import (
	"context"
	"testing"
	"time"
)

func testAppRecord(id, identifier string) AppRecord {
	return AppRecord{
		ID:               id,
		Identifier:       identifier,
		BundleIdentifier: "com.example.app",
		Name:             "Example",
		Version:          "1.2.3",
		Path:             "/library/" + id,
		AddedAt:          time.Now().UTC().Truncate(time.Second),
	}
}

func TestAddRecord_AndGet(t *testing.T) {
	// WHY: A registered record reads back field-for-field; an unknown ID
	// returns nil, not an error.
	s := openTestStore(t)
	ctx := context.Background()

	rec := testAppRecord("id-1", "com.example.app@1.2.3")
	if err := s.AddRecord(ctx, rec); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}

	got, err := s.GetRecord(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got == nil {
		t.Fatalf("GetRecord returned nil for registered record")
	}
	if got.Identifier != rec.Identifier || got.Name != rec.Name || got.Version != rec.Version || got.Path != rec.Path {
		t.Errorf("GetRecord = %+v, want %+v", got, rec)
	}

	absent, err := s.GetRecord(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetRecord absent: %v", err)
	}
	if absent != nil {
		t.Errorf("GetRecord for unknown ID = %+v, want nil", absent)
	}
}

func TestAddRecord_DuplicateIdentifierIsNoOp(t *testing.T) {
	// WHY: Importing the same package twice must not error and must not
	// clobber the first registration.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddRecord(ctx, testAppRecord("id-1", "com.example.app@1.2.3")); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	dup := testAppRecord("id-2", "com.example.app@1.2.3")
	dup.Name = "Renamed"
	if err := s.AddRecord(ctx, dup); err != nil {
		t.Fatalf("AddRecord duplicate: %v", err)
	}

	records, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("duplicate identifier created a second record")
	}
	if records[0].ID != "id-1" || records[0].Name != "Example" {
		t.Errorf("duplicate add modified existing record: %+v", records[0])
	}
}

func TestExists(t *testing.T) {
	// WHY: Exists drives the import pipeline's duplicate short-circuit.
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "com.example.app@1.2.3")
	if err != nil || ok {
		t.Errorf("Exists before add = %v err=%v, want false", ok, err)
	}
	if err := s.AddRecord(ctx, testAppRecord("id-1", "com.example.app@1.2.3")); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	ok, err = s.Exists(ctx, "com.example.app@1.2.3")
	if err != nil || !ok {
		t.Errorf("Exists after add = %v err=%v, want true", ok, err)
	}
}

func TestRemoveRecord(t *testing.T) {
	// WHY: Removal deletes by ID; the identifier becomes free for
	// re-import.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddRecord(ctx, testAppRecord("id-1", "com.example.app@1.2.3")); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := s.RemoveRecord(ctx, "id-1"); err != nil {
		t.Fatalf("RemoveRecord: %v", err)
	}
	ok, err := s.Exists(ctx, "com.example.app@1.2.3")
	if err != nil || ok {
		t.Errorf("Exists after removal = %v err=%v, want false", ok, err)
	}
}
