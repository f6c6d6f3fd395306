package listsync

import (
	"bytes"
	"sync"

	"golang.org/x/exp/slices"
)

// in-memory ordered copy of one server-owned collection.
// unique by id, ordered newest first by create time.
// exclusively owned by one controller. all entry points hold `stateLock`,
// so interleaved completions from the gateway and the subscription
// never see partial state.
type mirrorStore[T Item[T]] struct {
	stateLock sync.Mutex

	orderedItems []T
	// id -> item
	idItems map[Id]T
}

func newMirrorStore[T Item[T]]() *mirrorStore[T] {
	return &mirrorStore[T]{
		orderedItems: []T{},
		idItems:      map[Id]T{},
	}
}

// newest first, id bytes to break create time ties
func compareItems[T Item[T]](a T, b T) int {
	if c := b.ItemCreatedAt().Compare(a.ItemCreatedAt()); c != 0 {
		return c
	}
	aId := a.ItemId()
	bId := b.ItemId()
	return bytes.Compare(bId.Bytes(), aId.Bytes())
}

// authoritative resync. replaces contents and order.
// duplicate ids in the input keep the first occurrence.
func (self *mirrorStore[T]) ReplaceAll(items []T) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.orderedItems = []T{}
	self.idItems = map[Id]T{}
	for _, item := range items {
		if _, ok := self.idItems[item.ItemId()]; ok {
			continue
		}
		self.idItems[item.ItemId()] = item
		self.orderedItems = append(self.orderedItems, item)
	}
	slices.SortStableFunc(self.orderedItems, compareItems[T])
}

// head insert for a freshly persisted row.
// if the id is already present, e.g. the subscription won the race,
// the existing entry is replaced in place instead.
func (self *mirrorStore[T]) Prepend(item T) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.idItems[item.ItemId()]; ok {
		self.updateInPlace(item)
		return
	}
	self.idItems[item.ItemId()] = item
	self.orderedItems = append([]T{item}, self.orderedItems...)
}

// tail insert used to restore a removed item after a failed delete.
// the position is corrected by the next resync.
// a no-op if the id is already present, so a concurrent re-insert
// never produces a duplicate.
func (self *mirrorStore[T]) Append(item T) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.idItems[item.ItemId()]; ok {
		return false
	}
	self.idItems[item.ItemId()] = item
	self.orderedItems = append(self.orderedItems, item)
	return true
}

func (self *mirrorStore[T]) Get(itemId Id) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.idItems[itemId]
	return item, ok
}

// point replace preserving position. items not present are ignored,
// never inserted.
func (self *mirrorStore[T]) Update(item T) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.idItems[item.ItemId()]; !ok {
		return false
	}
	self.updateInPlace(item)
	return true
}

func (self *mirrorStore[T]) updateInPlace(item T) {
	self.idItems[item.ItemId()] = item
	for i := range self.orderedItems {
		if self.orderedItems[i].ItemId() == item.ItemId() {
			self.orderedItems[i] = item
			return
		}
	}
}

// point remove. removing an absent id is a no-op.
func (self *mirrorStore[T]) Remove(itemId Id) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.idItems[itemId]
	if !ok {
		var empty T
		return empty, false
	}
	delete(self.idItems, itemId)
	for i := range self.orderedItems {
		if self.orderedItems[i].ItemId() == itemId {
			self.orderedItems = append(self.orderedItems[:i], self.orderedItems[i+1:]...)
			break
		}
	}
	return item, true
}

// snapshot copy in order
func (self *mirrorStore[T]) Items() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.orderedItems)
}

func (self *mirrorStore[T]) Size() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.orderedItems)
}
