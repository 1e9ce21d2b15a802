package devserver

import "sync"

// PresenceTracker counts open connections per member of each room.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]map[string]int)}
}

// TryEnter adds a connection for name in room unless that would take the room
// past capacity distinct members. Capacity zero means unlimited.
func (p *PresenceTracker) TryEnter(room, name string, capacity int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := p.online[room]
	if members == nil {
		members = make(map[string]int)
		p.online[room] = members
	}
	if members[name] == 0 && capacity > 0 && len(members) >= capacity {
		return false
	}
	members[name]++
	return true
}

func (p *PresenceTracker) Leave(room, name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.online[room]
	if !ok {
		return 0
	}
	count, ok := members[name]
	if !ok {
		return 0
	}
	if count <= 1 {
		delete(members, name)
		if len(members) == 0 {
			delete(p.online, room)
		}
		return 0
	}
	members[name] = count - 1
	return members[name]
}

func (p *PresenceTracker) Online(room, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[room][name] > 0
}

// ActiveCount is the number of distinct members online in room.
func (p *PresenceTracker) ActiveCount(room string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online[room])
}
