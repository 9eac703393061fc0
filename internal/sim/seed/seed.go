// Package seed partitions one master seed into independent per-subsystem
// random streams.
//
// A subsystem's stream is a pure function of (master seed, subsystem name):
// the name is hashed into the seed material, so distinct subsystems get
// statistically independent sequences and drawing from one stream never
// advances another. There is no shared global generator anywhere in the
// engine.
package seed

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// Subsystem names used by the initial generator and the kernel engine.
const (
	TerrainElevation = "terrain_elevation"
	Precipitation    = "precipitation"
	RiverRouting     = "river_routing"
	Temperature      = "temperature"
	Vegetation       = "vegetation"
	KernelNoise      = "kernel_noise"
)

// Sub derives the 128-bit seed material for a named subsystem.
func Sub(master int64, name string) (hi, lo uint64) {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(master))
	h.Write(buf[:])
	h.Write([]byte(name))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16])
}

// Stream returns the deterministic generator for a named subsystem.
func Stream(master int64, name string) *rand.Rand {
	hi, lo := Sub(master, name)
	return rand.New(rand.NewPCG(hi, lo))
}

// Int64 returns a scalar sub-seed for generators that take a single seed
// value, such as the simplex noise source.
func Int64(master int64, name string) int64 {
	hi, _ := Sub(master, name)
	return int64(hi)
}
