package registry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEveryChannelOfIdentity(t *testing.T) {
	r := New(nil)
	phone, laptop, other := NewRecorder("c1"), NewRecorder("c2"), NewRecorder("c3")
	r.Register("rider-1", phone)
	r.Register("rider-1", laptop)
	r.Register("rider-2", other)

	n := r.Unicast("rider-1", "ride_accepted", map[string]string{"rideId": "r1"})

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ride_accepted"}, phone.Events())
	assert.Equal(t, []string{"ride_accepted"}, laptop.Events())
	assert.Empty(t, other.Events())
}

func TestFailingChannelDoesNotBlockOthers(t *testing.T) {
	r := New(nil)
	bad, good := NewRecorder("bad"), NewRecorder("good")
	bad.Fail()
	r.Join(AdminRoom, bad)
	r.Join(AdminRoom, good)

	n := r.Broadcast(AdminRoom, "ride_updated", struct{}{})

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ride_updated"}, good.Events())
}

func TestRemoveLeavesAllRooms(t *testing.T) {
	r := New(nil)
	ch := NewRecorder("c1")
	r.Register("driver-1", ch)
	r.Join(AdminRoom, ch)
	assert.Equal(t, []string{AdminRoom, "driver-1"}, r.Rooms(ch))

	r.Remove(ch)

	assert.Empty(t, r.Rooms(ch))
	assert.Empty(t, r.Members(AdminRoom))
	assert.Zero(t, r.Broadcast("driver-1", "new_ride_request", nil))
	// removing twice is harmless
	r.Remove(ch)
}

func TestLeaveKeepsOtherRooms(t *testing.T) {
	r := New(nil)
	ch := NewRecorder("c1")
	r.Register("driver-1", ch)
	r.Join(AdminRoom, ch)
	r.Leave(AdminRoom, ch)

	assert.Equal(t, []string{"driver-1"}, r.Rooms(ch))
	assert.Equal(t, []string{"c1"}, r.Members("driver-1"))
}

func TestSendRepliesToOneChannel(t *testing.T) {
	r := New(nil)
	a, b := NewRecorder("a"), NewRecorder("b")
	r.Register("driver-1", a)
	r.Register("driver-1", b)

	require.NoError(t, r.Send(a, "ride_unavailable", map[string]string{"message": "Ride already taken"}))
	assert.Equal(t, []string{"ride_unavailable"}, a.Events())
	assert.Empty(t, b.Events())
}

func TestWSSessionRoundTrip(t *testing.T) {
	sessions := make(chan *WSSession, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		sessions <- NewWSSession(conn)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	var s *WSSession
	select {
	case s = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("no session")
	}
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Send(Envelope{Event: "driver_updated", Data: map[string]any{"driverId": "d1"}}))
	var got map[string]any
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "driver_updated", got["event"])

	require.NoError(t, client.WriteJSON(map[string]any{"event": "join_admin", "data": map[string]any{}}))
	in, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "join_admin", in.Event)
	assert.JSONEq(t, `{}`, string(in.Data))

	require.NoError(t, s.Close())
}
