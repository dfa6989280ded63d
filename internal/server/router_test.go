package server

import (
	"encoding/json"
	"testing"
)

type fakeBroadcaster struct {
	events []sentEvent
}

func (f *fakeBroadcaster) Broadcast(event string, payload any) {
	f.events = append(f.events, sentEvent{name: event, payload: payload})
}

func newTestRouter() (*Router, *fakeBroadcaster) {
	all := &fakeBroadcaster{}
	return NewRouter(NewRegistry(), all), all
}

func envelope(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload for %s: %v", event, err)
	}
	return Envelope{Event: event, Data: data}
}

// lastEvent returns the most recent event sent to ch, failing the test if
// none arrived.
func lastEvent(t *testing.T, ch *fakeChannel) sentEvent {
	t.Helper()
	if len(ch.events) == 0 {
		t.Fatalf("channel %s received no events", ch.id)
	}
	return ch.events[len(ch.events)-1]
}

func countEvents(ch *fakeChannel, name string) int {
	n := 0
	for _, e := range ch.events {
		if e.name == name {
			n++
		}
	}
	return n
}

func TestLoginRoutesAndAcks(t *testing.T) {
	rt, _ := newTestRouter()
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, envelope(t, EventLogin, LoginPayload{Username: "alice"}))

	got := lastEvent(t, ch)
	if got.name != EventLoginToClient {
		t.Fatalf("Expected %s, got %s", EventLoginToClient, got.name)
	}
	if ack, ok := got.payload.(LoginAck); !ok || ack.Username != "alice" {
		t.Errorf("Unexpected ack payload %#v", got.payload)
	}

	routed, err := rt.Registry().RouteTo("alice")
	if err != nil || routed != Channel(ch) {
		t.Errorf("Login did not record the route: %v, %v", routed, err)
	}
}

func TestCreateRoomBroadcastsToAll(t *testing.T) {
	rt, all := newTestRouter()
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, envelope(t, EventCreateRoom, CreateRoomPayload{RoomName: "lobby"}))

	if len(all.events) != 1 || all.events[0].name != EventCreateRoomToClient {
		t.Fatalf("Expected one global %s, got %v", EventCreateRoomToClient, all.events)
	}
	if created := all.events[0].payload.(RoomCreated); created.RoomName != "lobby" {
		t.Errorf("Unexpected payload %#v", all.events[0].payload)
	}
}

func TestLoadRoomsRepliesToSender(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, envelope(t, EventLoadRooms, struct{}{}))

	got := lastEvent(t, ch)
	if got.name != EventLoadRoomsToClient {
		t.Fatalf("Expected %s, got %s", EventLoadRoomsToClient, got.name)
	}
	list := got.payload.(RoomList)
	if _, ok := list.Rooms["lobby"]; !ok {
		t.Errorf("Room list missing lobby: %#v", list)
	}
}

func TestJoinRoomSubscribesAndNotifies(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")

	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	// Membership and group subscription never diverge.
	if !rt.Subscribed("lobby", alice) || !rt.Subscribed("lobby", bob) {
		t.Fatal("Joined channels must be subscribed to the room group")
	}
	members, _ := rt.Registry().Members("lobby")
	if len(members) != 2 {
		t.Fatalf("Expected two members, got %v", members)
	}

	if countEvents(alice, EventJoinToClient) != 1 {
		t.Error("alice should get exactly one direct join ack")
	}
	// alice saw her own join and bob's; bob only his own.
	if countEvents(alice, EventShowUsersToClient) != 2 {
		t.Errorf("alice roster updates = %d, want 2", countEvents(alice, EventShowUsersToClient))
	}
	if countEvents(bob, EventShowUsersToClient) != 1 {
		t.Errorf("bob roster updates = %d, want 1", countEvents(bob, EventShowUsersToClient))
	}
}

func TestJoinRoomBannedGetsDenial(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	_ = rt.Registry().BanUser("lobby", "bob")
	bob := newFakeChannel("bob")

	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	got := lastEvent(t, bob)
	if got.name != EventBanMessage {
		t.Fatalf("Expected %s, got %s", EventBanMessage, got.name)
	}
	if rt.Subscribed("lobby", bob) {
		t.Error("Denied join must not subscribe the channel")
	}
	members, _ := rt.Registry().Members("lobby")
	if len(members) != 0 {
		t.Errorf("Denied join must not mutate membership: %v", members)
	}
}

func TestJoinUnknownRoomIsAbsorbed(t *testing.T) {
	rt, _ := newTestRouter()
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "ghost", Username: "alice"}))

	if len(ch.events) != 0 {
		t.Errorf("Unknown room join should emit nothing, got %v", ch.events)
	}
}

func TestLeaveRoomUnsubscribesAndNotifiesRoom(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventLeaveRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))

	if rt.Subscribed("lobby", alice) {
		t.Error("Leaving must drop the group subscription")
	}
	got := lastEvent(t, bob)
	if got.name != EventShowUsersToClient {
		t.Fatalf("Expected roster update, got %s", got.name)
	}
	roster := got.payload.(RoomRoster)
	if len(roster.Members) != 1 || roster.Members[0] != "bob" {
		t.Errorf("Expected post-leave members [bob], got %v", roster.Members)
	}
}

func TestPasswordQuery(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("open", "")
	rt.Registry().CreateRoom("vault", "hunter2")
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, envelope(t, EventPassword, PasswordQueryPayload{RoomName: "open"}))
	if got := lastEvent(t, ch); got.name != EventNoPasswordToClient {
		t.Errorf("Expected %s, got %s", EventNoPasswordToClient, got.name)
	}

	rt.HandleEvent(ch, envelope(t, EventPassword, PasswordQueryPayload{RoomName: "vault"}))
	if got := lastEvent(t, ch); got.name != EventPasswordToClient {
		t.Errorf("Expected %s, got %s", EventPasswordToClient, got.name)
	}
}

func TestCheckPasswordEvent(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("vault", "hunter2")
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, envelope(t, EventCheckPassword, CheckPasswordPayload{RoomName: "vault", Password: "hunter2"}))
	if got := lastEvent(t, ch); got.name != EventCorrectPasswordToClient {
		t.Errorf("Expected %s, got %s", EventCorrectPasswordToClient, got.name)
	}

	rt.HandleEvent(ch, envelope(t, EventCheckPassword, CheckPasswordPayload{RoomName: "vault", Password: "wrong"}))
	if got := lastEvent(t, ch); got.name != EventIncorrectPasswordToClient {
		t.Errorf("Expected %s, got %s", EventIncorrectPasswordToClient, got.name)
	}
}

func TestRemoveNotifiesRoomAndTarget(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventLogin, LoginPayload{Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventLogin, LoginPayload{Username: "bob"}))
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventRemove, ModerationPayload{Username: "bob", RoomName: "lobby"}))

	if rt.Subscribed("lobby", bob) {
		t.Error("Removed target must be unsubscribed")
	}
	if got := lastEvent(t, bob); got.name != EventRemoveToClient {
		t.Errorf("Target expected %s, got %s", EventRemoveToClient, got.name)
	}
	// The refreshed roster goes to the remaining members, not the target.
	got := lastEvent(t, alice)
	if got.name != EventShowUsersToClient {
		t.Fatalf("Expected roster update, got %s", got.name)
	}
	roster := got.payload.(RoomRoster)
	if len(roster.Members) != 1 || roster.Members[0] != "alice" {
		t.Errorf("Expected members [alice], got %v", roster.Members)
	}
	if rt.Registry().IsBanned("lobby", "bob") {
		t.Error("Remove must not ban")
	}
}

func TestBanRemovesAndBlocksRejoin(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventLogin, LoginPayload{Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventLogin, LoginPayload{Username: "bob"}))
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventBan, ModerationPayload{Username: "bob", RoomName: "lobby"}))

	if got := lastEvent(t, bob); got.name != EventBanToClient {
		t.Errorf("Target expected %s, got %s", EventBanToClient, got.name)
	}
	if !rt.Registry().IsBanned("lobby", "bob") {
		t.Error("Ban must be recorded")
	}
	members, _ := rt.Registry().Members("lobby")
	if len(members) != 1 || members[0] != "alice" {
		t.Errorf("Expected members [alice], got %v", members)
	}

	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))
	if got := lastEvent(t, bob); got.name != EventBanMessage {
		t.Errorf("Rejoin after ban expected %s, got %s", EventBanMessage, got.name)
	}
}

func TestPrivateMessageReachesOnlyTarget(t *testing.T) {
	rt, _ := newTestRouter()
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventLogin, LoginPayload{Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventLogin, LoginPayload{Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventPrivateMessage, PrivateMessagePayload{
		User:     "bob",
		Username: "alice",
		Message:  "psst",
	}))

	got := lastEvent(t, bob)
	if got.name != EventPrivateMessageToClient {
		t.Fatalf("Expected %s, got %s", EventPrivateMessageToClient, got.name)
	}
	pm := got.payload.(PrivateMessage)
	if pm.Username != "alice" || pm.Message != "psst" {
		t.Errorf("Unexpected payload %#v", pm)
	}
	if countEvents(alice, EventPrivateMessageToClient) != 0 {
		t.Error("Sender must not receive the private message")
	}
}

func TestPrivateMessageUnknownUserIsDropped(t *testing.T) {
	rt, _ := newTestRouter()
	alice := newFakeChannel("alice")

	rt.HandleEvent(alice, envelope(t, EventPrivateMessage, PrivateMessagePayload{
		User:     "ghost",
		Username: "alice",
		Message:  "anyone there?",
	}))

	if len(alice.events) != 0 {
		t.Errorf("Expected silence, got %v", alice.events)
	}
}

func TestUploadAndEmojiBroadcastToRoom(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	outsider := newFakeChannel("outsider")
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventUpload, UploadPayload{File: "cat.png", RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventEmoji, EmojiPayload{Emoji: "🎉", RoomName: "lobby", Username: "bob"}))

	for _, ch := range []*fakeChannel{alice, bob} {
		if countEvents(ch, EventUploadToClient) != 1 {
			t.Errorf("%s upload deliveries = %d, want 1", ch.id, countEvents(ch, EventUploadToClient))
		}
		if countEvents(ch, EventEmojiToClient) != 1 {
			t.Errorf("%s emoji deliveries = %d, want 1", ch.id, countEvents(ch, EventEmojiToClient))
		}
	}
	if len(outsider.events) != 0 {
		t.Errorf("Non-member received room traffic: %v", outsider.events)
	}
}

func TestRoomMessageBroadcast(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventMessageToServer, ChatMessagePayload{
		Message:  "hi",
		RoomName: "lobby",
		Username: "alice",
	}))

	for _, ch := range []*fakeChannel{alice, bob} {
		got := lastEvent(t, ch)
		if got.name != EventMessageToClient {
			t.Fatalf("%s expected %s, got %s", ch.id, EventMessageToClient, got.name)
		}
		msg := got.payload.(ChatMessage)
		if msg.Message != "hi" || msg.Username != "alice" {
			t.Errorf("%s got payload %#v", ch.id, msg)
		}
	}
}

func TestRenameMovesGroupAndRefreshesRoomList(t *testing.T) {
	rt, all := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.HandleEvent(alice, envelope(t, EventRename, RenamePayload{RoomName: "lobby", NewName: "den"}))

	if rt.Subscribed("lobby", alice) || rt.Subscribed("lobby", bob) {
		t.Error("Old group must be empty after rename")
	}
	if !rt.Subscribed("den", alice) || !rt.Subscribed("den", bob) {
		t.Error("Members must be subscribed to the new group")
	}

	last := all.events[len(all.events)-1]
	if last.name != EventLoadRoomsToClient {
		t.Fatalf("Expected global room list refresh, got %s", last.name)
	}
	list := last.payload.(RoomList)
	if _, ok := list.Rooms["lobby"]; ok {
		t.Error("Old key still present in room list")
	}
	if _, ok := list.Rooms["den"]; !ok {
		t.Error("New key missing from room list")
	}

	for _, ch := range []*fakeChannel{alice, bob} {
		got := lastEvent(t, ch)
		if got.name != EventRenameToClient {
			t.Fatalf("%s expected %s, got %s", ch.id, EventRenameToClient, got.name)
		}
		renamed := got.payload.(RoomRenamed)
		if renamed.NewName != "den" || len(renamed.Members) != 2 {
			t.Errorf("%s got rename payload %#v", ch.id, renamed)
		}
	}

	// Traffic to the new name reaches the moved members.
	rt.HandleEvent(alice, envelope(t, EventMessageToServer, ChatMessagePayload{
		Message: "still here", RoomName: "den", Username: "alice",
	}))
	if countEvents(bob, EventMessageToClient) != 1 {
		t.Error("Message to renamed room did not reach members")
	}
}

func TestUnknownEventIsDropped(t *testing.T) {
	rt, all := newTestRouter()
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, Envelope{Event: "teleport", Data: json.RawMessage(`{}`)})

	if len(ch.events) != 0 || len(all.events) != 0 {
		t.Error("Unknown event must not emit anything")
	}
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	rt, _ := newTestRouter()
	ch := newFakeChannel("conn-1")

	rt.HandleEvent(ch, Envelope{Event: EventJoinRoom, Data: json.RawMessage(`"not an object"`)})

	if len(ch.events) != 0 {
		t.Errorf("Malformed payload must be absorbed, got %v", ch.events)
	}
}

func TestDisconnectCleansUpAndNotifiesRooms(t *testing.T) {
	rt, _ := newTestRouter()
	rt.Registry().CreateRoom("lobby", "")
	alice := newFakeChannel("alice")
	bob := newFakeChannel("bob")
	rt.HandleEvent(alice, envelope(t, EventLogin, LoginPayload{Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventLogin, LoginPayload{Username: "bob"}))
	rt.HandleEvent(alice, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "alice"}))
	rt.HandleEvent(bob, envelope(t, EventJoinRoom, RoomUserPayload{RoomName: "lobby", Username: "bob"}))

	rt.Disconnect(bob)

	members, _ := rt.Registry().Members("lobby")
	if len(members) != 1 || members[0] != "alice" {
		t.Errorf("Expected members [alice], got %v", members)
	}
	if rt.Subscribed("lobby", bob) {
		t.Error("Disconnected channel still subscribed")
	}
	got := lastEvent(t, alice)
	if got.name != EventShowUsersToClient {
		t.Fatalf("Remaining member expected roster update, got %s", got.name)
	}
	roster := got.payload.(RoomRoster)
	if roster.Username != "bob" {
		t.Errorf("Roster update should name the departed user, got %#v", roster)
	}
}
