// Package server declares the wire protocol: the event envelope and the
// typed payload for every inbound and outbound event the relay understands.
package server

import "encoding/json"

// Inbound event names.
const (
	EventLogin           = "login"
	EventCreateRoom      = "create_room"
	EventLoadRooms       = "load_rooms"
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventPassword        = "password"
	EventCheckPassword   = "check_password"
	EventRemove          = "remove"
	EventBan             = "ban"
	EventPrivateMessage  = "private_message"
	EventUpload          = "upload"
	EventEmoji           = "emoji"
	EventRename          = "rename"
	EventMessageToServer = "message_to_server"
)

// Outbound event names.
const (
	EventLoginToClient             = "login_to_client"
	EventCreateRoomToClient        = "create_room_to_client"
	EventLoadRoomsToClient         = "load_rooms_to_client"
	EventBanMessage                = "ban_message"
	EventJoinToClient              = "join_to_client"
	EventShowUsersToClient         = "show_users_to_client"
	EventNoPasswordToClient        = "no_password_to_client"
	EventPasswordToClient          = "password_to_client"
	EventCorrectPasswordToClient   = "correct_password_to_client"
	EventIncorrectPasswordToClient = "incorrect_password_to_client"
	EventRemoveToClient            = "remove_to_client"
	EventBanToClient               = "ban_to_client"
	EventPrivateMessageToClient    = "private_message_to_client"
	EventUploadToClient            = "upload_to_client"
	EventEmojiToClient             = "emoji_to_client"
	EventRenameToClient            = "rename_to_client"
	EventMessageToClient           = "message_to_client"
)

// Envelope is the wire format in both directions: one JSON text message per
// event, carrying the event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a raw text message into an Envelope. An envelope
// without an event name is rejected.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errMissingEvent
	}
	return env, nil
}

var errMissingEvent = jsonError("envelope is missing an event name")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// Inbound payloads, one per event name.

// LoginPayload identifies the user behind a connection.
type LoginPayload struct {
	Username string `json:"username"`
}

// CreateRoomPayload registers a new room; an empty password means open.
type CreateRoomPayload struct {
	RoomName string `json:"room_name"`
	Password string `json:"password"`
}

// RoomUserPayload names a room plus the acting user. Shared by join_room and
// leave_room.
type RoomUserPayload struct {
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

// PasswordQueryPayload asks whether a room is password protected.
type PasswordQueryPayload struct {
	RoomName string `json:"room_name"`
}

// CheckPasswordPayload submits a password candidate for a room.
type CheckPasswordPayload struct {
	RoomName string `json:"room_name"`
	Password string `json:"password"`
}

// ModerationPayload targets a user within a room. Shared by remove and ban.
type ModerationPayload struct {
	Username string `json:"username"`
	RoomName string `json:"room_name"`
}

// PrivateMessagePayload carries a direct message: User is the recipient,
// Username the sender.
type PrivateMessagePayload struct {
	User     string `json:"user"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// UploadPayload shares a file link with a room.
type UploadPayload struct {
	File     string `json:"file"`
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

// EmojiPayload shares an emoji with a room.
type EmojiPayload struct {
	Emoji    string `json:"emoji"`
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

// RenamePayload re-keys a room.
type RenamePayload struct {
	RoomName string `json:"room_name"`
	NewName  string `json:"new_name"`
}

// ChatMessagePayload broadcasts a message to a room.
type ChatMessagePayload struct {
	Message  string `json:"message"`
	RoomName string `json:"room_name"`
	Username string `json:"username"`
}

// Outbound payloads.

// LoginAck confirms a login to the sender.
type LoginAck struct {
	Username string `json:"username"`
}

// RoomCreated announces a new room to all clients.
type RoomCreated struct {
	RoomName string `json:"room_name"`
}

// RoomList is the full room-to-members snapshot for display.
type RoomList struct {
	Rooms map[string][]string `json:"rooms"`
}

// RoomRoster reports a room's membership after a change. Username is the
// user whose join or departure triggered the update.
type RoomRoster struct {
	Username string   `json:"username"`
	Members  []string `json:"members"`
	RoomName string   `json:"room_name"`
}

// RoomRef names a room in a directed reply.
type RoomRef struct {
	RoomName string `json:"room_name"`
}

// PrivateMessage delivers a direct message to its recipient.
type PrivateMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// SharedUpload delivers a file link to a room.
type SharedUpload struct {
	File     string `json:"file"`
	Username string `json:"username"`
}

// SharedEmoji delivers an emoji to a room.
type SharedEmoji struct {
	Emoji    string `json:"emoji"`
	Username string `json:"username"`
}

// RoomRenamed notifies a room's members of its new name.
type RoomRenamed struct {
	NewName string   `json:"new_name"`
	Members []string `json:"members"`
}

// ChatMessage delivers a room broadcast.
type ChatMessage struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}
