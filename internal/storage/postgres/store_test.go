package postgres

import (
	"reflect"
	"testing"

	"swapscope/internal/model"
)

func TestDedupeReservesKeepLast(t *testing.T) {
	reserves := []model.PoolReserve{
		{PoolID: "a:b:minswapv1", Time: 100, Reserve1: 1, Reserve2: 10, TxHash: "t1"},
		{PoolID: "c:d:minswapv1", Time: 100, Reserve1: 5, Reserve2: 50, TxHash: "t2"},
		{PoolID: "a:b:minswapv1", Time: 100, Reserve1: 2, Reserve2: 20, TxHash: "t3"},
		{PoolID: "a:b:minswapv1", Time: 101, Reserve1: 3, Reserve2: 30, TxHash: "t4"},
	}

	deduped := dedupeReservesKeepLast(reserves)
	if len(deduped) != 3 {
		t.Fatalf("expected 3 rows after dedupe, got %d", len(deduped))
	}
	// The later occurrence replaces the earlier one in place.
	if deduped[0].TxHash != "t3" || deduped[0].Reserve1 != 2 {
		t.Fatalf("duplicate key kept the wrong occurrence: %+v", deduped[0])
	}
	if deduped[1].TxHash != "t2" {
		t.Fatalf("unrelated row disturbed: %+v", deduped[1])
	}
	if deduped[2].TxHash != "t4" {
		t.Fatalf("distinct time collapsed: %+v", deduped[2])
	}
}

func TestDedupeReservesKeepLastEmpty(t *testing.T) {
	if got := dedupeReservesKeepLast(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestDedupeStrings(t *testing.T) {
	got := dedupeStrings([]string{"a", "", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
