package model

import "testing"

func TestAddressAppendKeepsSlots(t *testing.T) {
	owner := NewOwner("test")
	addr := owner.NewAddress(Slot{ID: "a", Location: "l"}, Slot{ID: "b", Location: "l"})
	before := addr.Slots()
	addr.Append(owner, Slot{ID: "c", Location: "l"})
	if addr.Len() != 3 {
		t.Fatalf("expected 3 slots, got %d", addr.Len())
	}
	for i, s := range before {
		if addr.Slot(i) != s {
			t.Errorf("slot %d changed from %+v to %+v", i, s, addr.Slot(i))
		}
	}
	last, ok := addr.Last()
	if !ok || last.ID != "c" {
		t.Fatalf("unexpected last slot %+v", last)
	}
	if !addr.Contains("b") || addr.Contains("z") {
		t.Fatal("Contains reported wrong membership")
	}
}

func TestAddressIdentity(t *testing.T) {
	owner := NewOwner("test")
	a := owner.NewAddress(Slot{ID: "x"})
	b := owner.NewAddress(Slot{ID: "x"})
	if a.Same(b) {
		t.Fatal("addresses with equal content must not be the same")
	}
	if !a.Same(a) {
		t.Fatal("address must be the same as itself")
	}
	if a.Same(nil) {
		t.Fatal("address must not equal nil")
	}
}

func TestAddressUsedAfterOwnerClosed(t *testing.T) {
	owner := NewOwner("test")
	addr := owner.NewAddress(Slot{ID: "x"})
	owner.Close()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for address used after close")
		}
	}()
	addr.Append(owner, Slot{ID: "y"})
}

func TestAddressForeignOwner(t *testing.T) {
	addr := NewOwner("one").NewAddress()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for foreign owner")
		}
	}()
	addr.MustBeOwnedBy(NewOwner("two"))
}
