package services

import "sync"

// RoomLocker hands out one exclusive lock per room ID, serializing the
// read-modify-write cycles of the two connections (and any bot timer)
// acting on the same match. Entries are reference-counted and dropped as
// soon as nobody holds or waits on them, so expired rooms leave nothing
// behind.
type RoomLocker struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewRoomLocker() *RoomLocker {
	return &RoomLocker{locks: make(map[string]*roomLock)}
}

// Lock blocks until the caller holds the room exclusively and returns the
// matching unlock function.
func (l *RoomLocker) Lock(roomID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[roomID]
	if !ok {
		entry = &roomLock{}
		l.locks[roomID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}
