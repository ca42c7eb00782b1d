package placement_service

import (
	"strconv"

	"github.com/creachadair/cityhash"
)

// Placer maps a path or a path+block key to a primary drive index in
// [0, numDrives). Placement must be stable across runs for a fixed seed.
type Placer interface {
	PlacePath(path string) int
	PlaceBlock(path string, offset int64) int
	BlockKey(path string, offset int64) string
	NumDrives() int
}

// CityHashPlacer places keys with CityHash64. The string seed is folded to a
// 64-bit seed once at construction, so changing the seed reshuffles every
// placement.
type CityHashPlacer struct {
	numDrives int
	seed      uint64
}

func NewCityHashPlacer(seed string, numDrives int) *CityHashPlacer {
	return &CityHashPlacer{
		numDrives: numDrives,
		seed:      cityhash.Hash64WithSeed([]byte(seed), 0),
	}
}

func (p *CityHashPlacer) NumDrives() int {
	return p.numDrives
}

func (p *CityHashPlacer) PlacePath(path string) int {
	return p.place(path)
}

func (p *CityHashPlacer) PlaceBlock(path string, offset int64) int {
	return p.place(p.BlockKey(path, offset))
}

func (p *CityHashPlacer) BlockKey(path string, offset int64) string {
	return path + ":" + strconv.FormatInt(offset, 10)
}

func (p *CityHashPlacer) place(key string) int {
	hash := cityhash.Hash64WithSeed([]byte(key), p.seed)
	return int(hash % uint64(p.numDrives))
}
