package router

import (
	"sort"
	"sync"
)

// roomLocks hands out one mutex per room. Entries are reference counted
// and dropped when the last holder unlocks, so idle rooms cost nothing.
type roomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{rooms: make(map[string]*roomLock)}
}

// lock acquires every named room in sorted order and returns the release
// func. Empty and repeated ids are ignored.
func (l *roomLocks) lock(roomIDs ...string) func() {
	ids := make([]string, 0, len(roomIDs))
	seen := make(map[string]bool, len(roomIDs))
	for _, id := range roomIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	held := make([]*roomLock, len(ids))
	for i, id := range ids {
		l.mu.Lock()
		rl, ok := l.rooms[id]
		if !ok {
			rl = &roomLock{}
			l.rooms[id] = rl
		}
		rl.refs++
		l.mu.Unlock()

		rl.mu.Lock()
		held[i] = rl
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()

			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.rooms, ids[i])
			}
			l.mu.Unlock()
		}
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
