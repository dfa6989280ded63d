// Package server implements the room registry: the authoritative in-memory
// store of rooms, memberships, passwords, ban lists, and username routing.
package server

import "sync"

// Registry owns all room and routing state for the relay. Rooms are created
// explicitly, never deleted, and only re-keyed by Rename. Access is
// serialized through a single mutex so that cross-map operations like rename
// and ban always observe a consistent snapshot.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string][]string            // room -> members in join order
	passwords map[string]string              // room -> password ("" = open)
	bans      map[string]map[string]struct{} // room -> banned usernames
	routes    map[string]Channel             // username -> current channel
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string][]string),
		passwords: make(map[string]string),
		bans:      make(map[string]map[string]struct{}),
		routes:    make(map[string]Channel),
	}
}

// CreateRoom registers a room with empty membership and ban list. Creating a
// room that already exists resets it silently, matching the relay protocol.
func (r *Registry) CreateRoom(name, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms[name] = []string{}
	r.passwords[name] = password
	r.bans[name] = make(map[string]struct{})
}

// Login records the channel used to reach username. Logging in again
// overwrites the previous route: last login wins.
func (r *Registry) Login(username string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes[username] = ch
}

// JoinRoom adds username to the room's membership. It returns ErrBanned for
// banned users and ErrUnknownRoom if the room was never created. Joining a
// room the user is already in is a no-op.
func (r *Registry) JoinRoom(room, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return ErrUnknownRoom
	}
	if _, banned := r.bans[room][username]; banned {
		return ErrBanned
	}
	for _, m := range members {
		if m == username {
			return nil
		}
	}
	r.rooms[room] = append(members, username)
	return nil
}

// LeaveRoom removes username from the room's membership. It returns
// ErrNotFound if the user is not a member; membership is left unchanged.
func (r *Registry) LeaveRoom(room, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeMember(room, username)
}

// removeMember drops the first occurrence of username from rooms[room].
// Callers must hold the write lock.
func (r *Registry) removeMember(room, username string) error {
	members, ok := r.rooms[room]
	if !ok {
		return ErrUnknownRoom
	}
	for i, m := range members {
		if m == username {
			r.rooms[room] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// RemoveUser performs a forced removal of username from the room without
// banning. The caller is responsible for unsubscribing and notifying the
// target channel.
func (r *Registry) RemoveUser(room, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeMember(room, username)
}

// BanUser adds username to the room's ban list and removes any current
// membership. Banning an already banned user is idempotent. A ban succeeds
// even when the user is not currently a member.
func (r *Registry) BanUser(room, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	banned, ok := r.bans[room]
	if !ok {
		return ErrUnknownRoom
	}
	banned[username] = struct{}{}

	if err := r.removeMember(room, username); err != nil && err != ErrNotFound {
		return err
	}
	return nil
}

// RenameRoom re-keys the room's membership, password, and ban list from
// oldName to newName in one step, overwriting any existing newName entry.
// It returns ErrUnknownRoom if oldName does not exist.
func (r *Registry) RenameRoom(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[oldName]
	if !ok {
		return ErrUnknownRoom
	}

	r.rooms[newName] = members
	delete(r.rooms, oldName)
	r.passwords[newName] = r.passwords[oldName]
	delete(r.passwords, oldName)
	r.bans[newName] = r.bans[oldName]
	delete(r.bans, oldName)
	return nil
}

// HasPassword reports whether the room is password protected.
func (r *Registry) HasPassword(room string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.rooms[room]; !ok {
		return false, ErrUnknownRoom
	}
	return r.passwords[room] != "", nil
}

// CheckPassword reports whether candidate unlocks the room. Rooms without a
// password accept any candidate.
func (r *Registry) CheckPassword(room, candidate string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.passwords[room]
	return stored == "" || stored == candidate
}

// IsBanned reports whether username is banned from room.
func (r *Registry) IsBanned(room, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, banned := r.bans[room][username]
	return banned
}

// Members returns a copy of the room's membership in join order.
func (r *Registry) Members(room string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil, ErrUnknownRoom
	}
	return append([]string(nil), members...), nil
}

// ListRooms returns a snapshot of every room and its members. The snapshot
// is a deep copy; mutating it does not affect the registry.
func (r *Registry) ListRooms() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string][]string, len(r.rooms))
	for name, members := range r.rooms {
		snapshot[name] = append([]string(nil), members...)
	}
	return snapshot
}

// RouteTo returns the current channel for username, or ErrUnknownUser if the
// user never logged in.
func (r *Registry) RouteTo(username string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.routes[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	return ch, nil
}

// Departure records a membership dropped during disconnect cleanup, with the
// room's member list after the removal.
type Departure struct {
	Username string
	Room     string
	Members  []string
}

// Disconnect clears every route that still points at ch and removes those
// usernames from all room memberships. Routes overwritten by a newer login
// are left alone, so a reconnect is not clobbered by the old connection's
// teardown. It returns one Departure per membership dropped.
func (r *Registry) Disconnect(ch Channel) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for username, route := range r.routes {
		if route == ch {
			removed = append(removed, username)
			delete(r.routes, username)
		}
	}

	var departures []Departure
	for _, username := range removed {
		for room := range r.rooms {
			if r.removeMember(room, username) == nil {
				departures = append(departures, Departure{
					Username: username,
					Room:     room,
					Members:  append([]string(nil), r.rooms[room]...),
				})
			}
		}
	}
	return departures
}
