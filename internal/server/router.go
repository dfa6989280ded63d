// Package server routes inbound protocol events: each event becomes a
// registry operation plus an emission plan directed at one channel, a room
// group, or every connected client.
package server

import (
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Router translates inbound events into registry mutations and outbound
// emissions. It keeps the registry and the group subscriptions in lockstep:
// every inbound event is processed as one atomic unit of work under a single
// mutex, so membership and group state never diverge.
type Router struct {
	mu       sync.Mutex
	registry *Registry
	groups   *groupSet
	all      Broadcaster
}

// NewRouter creates a Router over the given registry. Global broadcasts
// (room list refreshes, room creation) go through all.
func NewRouter(registry *Registry, all Broadcaster) *Router {
	return &Router{
		registry: registry,
		groups:   newGroupSet(),
		all:      all,
	}
}

// Registry returns the registry the router mutates.
func (rt *Router) Registry() *Registry {
	return rt.registry
}

// Subscribed reports whether ch currently receives the room's broadcasts.
func (rt *Router) Subscribed(room string, ch Channel) bool {
	return rt.groups.contains(room, ch)
}

// HandleEvent dispatches one decoded envelope from ch. Registry errors are
// converted into denial events or absorbed; they never terminate the
// connection. Unknown event names are logged and dropped.
func (rt *Router) HandleEvent(ch Channel, env Envelope) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch env.Event {
	case EventLogin:
		rt.handleLogin(ch, env.Data)
	case EventCreateRoom:
		rt.handleCreateRoom(env.Data)
	case EventLoadRooms:
		ch.Send(EventLoadRoomsToClient, RoomList{Rooms: rt.registry.ListRooms()})
	case EventJoinRoom:
		rt.handleJoinRoom(ch, env.Data)
	case EventLeaveRoom:
		rt.handleLeaveRoom(ch, env.Data)
	case EventPassword:
		rt.handlePasswordQuery(ch, env.Data)
	case EventCheckPassword:
		rt.handleCheckPassword(ch, env.Data)
	case EventRemove:
		rt.handleModeration(env.Data, false)
	case EventBan:
		rt.handleModeration(env.Data, true)
	case EventPrivateMessage:
		rt.handlePrivateMessage(env.Data)
	case EventUpload:
		rt.handleUpload(env.Data)
	case EventEmoji:
		rt.handleEmoji(env.Data)
	case EventRename:
		rt.handleRename(env.Data)
	case EventMessageToServer:
		rt.handleChatMessage(env.Data)
	default:
		log.Printf("Dropping unknown event %q", env.Event)
	}
}

// Disconnect cleans up after a closed channel: its routes are cleared, its
// group subscriptions dropped, and every room it occupied is sent a
// refreshed member list.
func (rt *Router) Disconnect(ch Channel) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.groups.drop(ch)
	for _, dep := range rt.registry.Disconnect(ch) {
		rt.groups.broadcast(dep.Room, EventShowUsersToClient, RoomRoster{
			Username: dep.Username,
			Members:  dep.Members,
			RoomName: dep.Room,
		})
	}
}

func (rt *Router) handleLogin(ch Channel, data json.RawMessage) {
	var p LoginPayload
	if !decodePayload(EventLogin, data, &p) {
		return
	}
	rt.registry.Login(p.Username, ch)
	ch.Send(EventLoginToClient, LoginAck{Username: p.Username})
}

func (rt *Router) handleCreateRoom(data json.RawMessage) {
	var p CreateRoomPayload
	if !decodePayload(EventCreateRoom, data, &p) {
		return
	}
	rt.registry.CreateRoom(p.RoomName, p.Password)
	rt.all.Broadcast(EventCreateRoomToClient, RoomCreated{RoomName: p.RoomName})
}

func (rt *Router) handleJoinRoom(ch Channel, data json.RawMessage) {
	var p RoomUserPayload
	if !decodePayload(EventJoinRoom, data, &p) {
		return
	}

	switch err := rt.registry.JoinRoom(p.RoomName, p.Username); {
	case errors.Is(err, ErrBanned):
		ch.Send(EventBanMessage, nil)
		return
	case errors.Is(err, ErrUnknownRoom):
		log.Printf("Join attempt on unknown room %q by %q", p.RoomName, p.Username)
		return
	}

	rt.groups.join(p.RoomName, ch)
	members, err := rt.registry.Members(p.RoomName)
	if err != nil {
		return
	}
	roster := RoomRoster{Username: p.Username, Members: members, RoomName: p.RoomName}
	ch.Send(EventJoinToClient, roster)
	rt.groups.broadcast(p.RoomName, EventShowUsersToClient, roster)
}

func (rt *Router) handleLeaveRoom(ch Channel, data json.RawMessage) {
	var p RoomUserPayload
	if !decodePayload(EventLeaveRoom, data, &p) {
		return
	}

	// Leaving a room you are not in is a no-op, not an error.
	if err := rt.registry.LeaveRoom(p.RoomName, p.Username); errors.Is(err, ErrUnknownRoom) {
		return
	}
	rt.groups.leave(p.RoomName, ch)

	members, err := rt.registry.Members(p.RoomName)
	if err != nil {
		return
	}
	rt.groups.broadcast(p.RoomName, EventShowUsersToClient, RoomRoster{
		Username: p.Username,
		Members:  members,
		RoomName: p.RoomName,
	})
}

func (rt *Router) handlePasswordQuery(ch Channel, data json.RawMessage) {
	var p PasswordQueryPayload
	if !decodePayload(EventPassword, data, &p) {
		return
	}

	protected, err := rt.registry.HasPassword(p.RoomName)
	if err != nil {
		log.Printf("Password query for unknown room %q", p.RoomName)
		return
	}
	if protected {
		ch.Send(EventPasswordToClient, RoomRef{RoomName: p.RoomName})
	} else {
		ch.Send(EventNoPasswordToClient, RoomRef{RoomName: p.RoomName})
	}
}

func (rt *Router) handleCheckPassword(ch Channel, data json.RawMessage) {
	var p CheckPasswordPayload
	if !decodePayload(EventCheckPassword, data, &p) {
		return
	}

	if rt.registry.CheckPassword(p.RoomName, p.Password) {
		ch.Send(EventCorrectPasswordToClient, RoomRef{RoomName: p.RoomName})
	} else {
		ch.Send(EventIncorrectPasswordToClient, nil)
	}
}

// handleModeration covers remove and ban: the target loses its membership
// and group subscription before the room sees the refreshed roster, then the
// target alone is notified.
func (rt *Router) handleModeration(data json.RawMessage, ban bool) {
	event := EventRemove
	if ban {
		event = EventBan
	}
	var p ModerationPayload
	if !decodePayload(event, data, &p) {
		return
	}

	var err error
	if ban {
		err = rt.registry.BanUser(p.RoomName, p.Username)
	} else {
		err = rt.registry.RemoveUser(p.RoomName, p.Username)
	}
	if errors.Is(err, ErrUnknownRoom) {
		log.Printf("%s attempt on unknown room %q", event, p.RoomName)
		return
	}

	target, routeErr := rt.registry.RouteTo(p.Username)
	if routeErr == nil {
		rt.groups.leave(p.RoomName, target)
	}

	members, membersErr := rt.registry.Members(p.RoomName)
	if membersErr == nil {
		rt.groups.broadcast(p.RoomName, EventShowUsersToClient, RoomRoster{
			Username: p.Username,
			Members:  members,
			RoomName: p.RoomName,
		})
	}

	if routeErr == nil {
		notice := EventRemoveToClient
		if ban {
			notice = EventBanToClient
		}
		target.Send(notice, nil)
	}
}

func (rt *Router) handlePrivateMessage(data json.RawMessage) {
	var p PrivateMessagePayload
	if !decodePayload(EventPrivateMessage, data, &p) {
		return
	}

	target, err := rt.registry.RouteTo(p.User)
	if err != nil {
		log.Printf("Private message for unknown user %q dropped", p.User)
		return
	}
	target.Send(EventPrivateMessageToClient, PrivateMessage{
		Username: p.Username,
		Message:  p.Message,
	})
}

func (rt *Router) handleUpload(data json.RawMessage) {
	var p UploadPayload
	if !decodePayload(EventUpload, data, &p) {
		return
	}
	rt.groups.broadcast(p.RoomName, EventUploadToClient, SharedUpload{
		File:     p.File,
		Username: p.Username,
	})
}

func (rt *Router) handleEmoji(data json.RawMessage) {
	var p EmojiPayload
	if !decodePayload(EventEmoji, data, &p) {
		return
	}
	rt.groups.broadcast(p.RoomName, EventEmojiToClient, SharedEmoji{
		Emoji:    p.Emoji,
		Username: p.Username,
	})
}

func (rt *Router) handleRename(data json.RawMessage) {
	var p RenamePayload
	if !decodePayload(EventRename, data, &p) {
		return
	}

	if err := rt.registry.RenameRoom(p.RoomName, p.NewName); err != nil {
		log.Printf("Rename of unknown room %q dropped", p.RoomName)
		return
	}
	rt.groups.rename(p.RoomName, p.NewName)

	rt.all.Broadcast(EventLoadRoomsToClient, RoomList{Rooms: rt.registry.ListRooms()})

	members, err := rt.registry.Members(p.NewName)
	if err != nil {
		return
	}
	rt.groups.broadcast(p.NewName, EventRenameToClient, RoomRenamed{
		NewName: p.NewName,
		Members: members,
	})
}

func (rt *Router) handleChatMessage(data json.RawMessage) {
	var p ChatMessagePayload
	if !decodePayload(EventMessageToServer, data, &p) {
		return
	}
	log.Printf("message: %s", p.Message)
	rt.groups.broadcast(p.RoomName, EventMessageToClient, ChatMessage{
		Message:  p.Message,
		Username: p.Username,
	})
}

func decodePayload(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("Malformed %s payload: %v", event, err)
		return false
	}
	return true
}
