package seed

import "testing"

func TestStreamIsPureFunctionOfInputs(t *testing.T) {
	a := Stream(42, TerrainElevation)
	b := Stream(42, TerrainElevation)
	for i := 0; i < 64; i++ {
		if x, y := a.Uint64(), b.Uint64(); x != y {
			t.Fatalf("draw %d diverged: %d vs %d", i, x, y)
		}
	}
}

func TestDistinctNamesYieldDistinctStreams(t *testing.T) {
	a := Stream(42, TerrainElevation)
	b := Stream(42, Temperature)
	same := 0
	for i := 0; i < 64; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same != 0 {
		t.Fatalf("%d/64 draws collided between subsystems", same)
	}
}

func TestDistinctSeedsYieldDistinctStreams(t *testing.T) {
	if Int64(42, Vegetation) == Int64(43, Vegetation) {
		t.Fatal("different master seeds produced the same sub-seed")
	}
}

func TestStreamsDoNotPerturbEachOther(t *testing.T) {
	// Reference sequence for temperature with nothing else drawn.
	ref := Stream(7, Temperature)
	want := make([]uint64, 16)
	for i := range want {
		want[i] = ref.Uint64()
	}

	// Drain a large number of draws from another subsystem first.
	other := Stream(7, TerrainElevation)
	for i := 0; i < 10000; i++ {
		other.Uint64()
	}
	got := Stream(7, Temperature)
	for i := range want {
		if v := got.Uint64(); v != want[i] {
			t.Fatalf("temperature stream draw %d changed after foreign draws", i)
		}
	}
}
