package lru

import (
	"container/list"
	"sync"
)

type lruShard struct {
	mu        sync.Mutex
	capacity  int
	evictList *list.List
	elems     map[uint64]*list.Element
	onEvict   OnEvict
}

func newLruShard(capacity int, onEvict OnEvict) *lruShard {
	return &lruShard{
		capacity:  capacity,
		evictList: list.New(),
		elems:     make(map[uint64]*list.Element),
		onEvict:   onEvict,
	}
}

type entry struct {
	key   uint64
	value interface{}
}

func (ls *lruShard) get(key uint64) (interface{}, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	elem, ok := ls.elems[key]
	if !ok {
		return nil, false
	}

	ls.evictList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

// add stores value under key, reporting whether an eviction happened
// and whether the key is new to the shard
func (ls *lruShard) add(key uint64, value interface{}) (evicted bool, inserted bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if elem, ok := ls.elems[key]; ok {
		ls.evictList.MoveToFront(elem)
		elem.Value.(*entry).value = value
		return false, false
	}

	for len(ls.elems) >= ls.capacity {
		k, v, ok := ls.removeOldestUnderLock()
		if !ok {
			break
		}
		evicted = true
		if ls.onEvict != nil {
			ls.onEvict(k, v)
		}
	}

	ls.elems[key] = ls.evictList.PushFront(&entry{key: key, value: value})
	return evicted, true
}

func (ls *lruShard) purge() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for k := range ls.elems {
		delete(ls.elems, k)
	}

	ls.evictList.Init()
}

func (ls *lruShard) remove(key uint64) (interface{}, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	elem, ok := ls.elems[key]
	if !ok {
		return nil, false
	}

	_, value := ls.removeElementUnderLock(elem)
	return value, true
}

func (ls *lruShard) removeOldestUnderLock() (uint64, interface{}, bool) {
	elem := ls.evictList.Back()
	if elem == nil {
		return 0, nil, false
	}

	k, v := ls.removeElementUnderLock(elem)
	return k, v, true
}

func (ls *lruShard) removeElementUnderLock(elem *list.Element) (uint64, interface{}) {
	ls.evictList.Remove(elem)

	kv := elem.Value.(*entry)
	delete(ls.elems, kv.key)
	return kv.key, kv.value
}

func (ls *lruShard) keys() []uint64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	keys := make([]uint64, 0, len(ls.elems))
	for e := ls.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*entry).key)
	}
	return keys
}
