package lru

// NullCache never retains anything.
type NullCache struct{}

func (NullCache) Add(key uint64, value interface{}) bool { return false }

func (NullCache) Get(key uint64) (interface{}, bool) { return nil, false }

func (NullCache) Remove(key uint64) {}
