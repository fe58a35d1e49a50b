package entity

// Allocator hands out entity ids, reusing freed indices with a bumped
// generation.
type Allocator struct {
	generations []uint32
	alive       []bool
	free        []uint32
}

func (a *Allocator) Alloc() Entity {
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		a.alive[index] = true
		return Entity{Index: index, Generation: a.generations[index]}
	}
	index := uint32(len(a.generations))
	a.generations = append(a.generations, 0)
	a.alive = append(a.alive, true)
	return Entity{Index: index}
}

// Free releases e. Returns false if e is not alive.
func (a *Allocator) Free(e Entity) bool {
	if !a.IsAlive(e) {
		return false
	}
	a.alive[e.Index] = false
	a.generations[e.Index]++
	a.free = append(a.free, e.Index)
	return true
}

func (a *Allocator) IsAlive(e Entity) bool {
	if int(e.Index) >= len(a.generations) {
		return false
	}
	return a.alive[e.Index] && a.generations[e.Index] == e.Generation
}

// Len is the number of live entities.
func (a *Allocator) Len() int {
	return len(a.generations) - len(a.free)
}
