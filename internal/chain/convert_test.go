package chain

import (
	"testing"

	"swapscope/internal/model"
)

func TestSyncPointRoundTrip(t *testing.T) {
	point := model.BlockPoint{
		Slot: 133660799,
		Hash: "e72579ff89dc9ed325b723a33624b596c08141c7bd573ecfff56a1f7229893ce",
	}

	wire, err := toSyncPoint(point)
	if err != nil {
		t.Fatalf("toSyncPoint: %v", err)
	}
	if wire.Slot != point.Slot {
		t.Fatalf("slot changed: got %d, want %d", wire.Slot, point.Slot)
	}

	back := fromSyncPoint(wire)
	if back != point {
		t.Fatalf("round trip changed point: got %+v, want %+v", back, point)
	}
}

func TestSyncPointEmptyHashIsOrigin(t *testing.T) {
	wire, err := toSyncPoint(model.BlockPoint{Slot: 42})
	if err != nil {
		t.Fatalf("toSyncPoint: %v", err)
	}
	if wire.Slot != 0 || len(wire.Hash) != 0 {
		t.Fatalf("expected origin point, got %+v", wire)
	}
}

func TestSyncPointRejectsBadHash(t *testing.T) {
	if _, err := toSyncPoint(model.BlockPoint{Slot: 1, Hash: "not-hex"}); err == nil {
		t.Fatal("expected error for non-hex hash")
	}
}
