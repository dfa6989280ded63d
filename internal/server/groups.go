// Package server tracks group subscriptions: which channels receive a room's
// broadcasts. The group map is a derived view of registry membership and the
// router updates both in lockstep.
package server

import "sync"

type groupSet struct {
	mu     sync.RWMutex
	byRoom map[string]map[Channel]struct{}
}

func newGroupSet() *groupSet {
	return &groupSet{byRoom: make(map[string]map[Channel]struct{})}
}

func (g *groupSet) join(room string, ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs, ok := g.byRoom[room]
	if !ok {
		subs = make(map[Channel]struct{})
		g.byRoom[room] = subs
	}
	subs[ch] = struct{}{}
}

func (g *groupSet) leave(room string, ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.byRoom[room], ch)
}

// rename moves every subscriber from the old group to the new one,
// overwriting any existing new group.
func (g *groupSet) rename(oldRoom, newRoom string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs, ok := g.byRoom[oldRoom]
	if !ok {
		return
	}
	delete(g.byRoom, oldRoom)
	g.byRoom[newRoom] = subs
}

// drop removes ch from every group it is subscribed to.
func (g *groupSet) drop(ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, subs := range g.byRoom {
		delete(subs, ch)
	}
}

func (g *groupSet) contains(room string, ch Channel) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.byRoom[room][ch]
	return ok
}

// broadcast sends the event to every channel subscribed to the room. Sends
// that fail for individual recipients are dropped by the channel itself.
func (g *groupSet) broadcast(room, event string, payload any) {
	g.mu.RLock()
	subs := make([]Channel, 0, len(g.byRoom[room]))
	for ch := range g.byRoom[room] {
		subs = append(subs, ch)
	}
	g.mu.RUnlock()

	for _, ch := range subs {
		ch.Send(event, payload)
	}
}
