package wsbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/eventtask"
	"github.com/streamspace/pulsehost/internal/hashkey"
	"github.com/streamspace/pulsehost/internal/messages"
	"github.com/streamspace/pulsehost/internal/value"
)

func newTestHub(t *testing.T) (*Hub, *datastore.DataStore) {
	events := eventtask.New(16)
	go events.Run()
	t.Cleanup(func() {
		events.Inbox <- messages.EventMessage{Kind: messages.EvtShutdown}
		<-events.Done()
	})

	ds := datastore.New(events.Inbox, nil)
	hub := NewHub(ds)
	ds.SetWSSender(hub)
	go hub.Run()
	return hub, ds
}

func TestNotifyChangedPropertyBroadcastsToConnectedClient(t *testing.T) {
	hub, ds := newTestHub(t)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	ph := hashkey.PropertyHandle{Plugin: hashkey.PluginID(1), Item: hashkey.ItemHash(2)}
	cell := value.NewCellWith(value.Int(99))
	ds.SetProperty(ph, cell, "temperature")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env outboundEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, outboundPropertyUpdate, env.Type)
	require.Equal(t, "temperature", env.Name)
	require.NotNil(t, env.Value)
	require.Equal(t, int64(99), env.Value.Int)
}

func TestTriggerActionFromDashboardDispatchesToTarget(t *testing.T) {
	hub, ds := newTestHub(t)

	targetInbox := make(messages.LoaderChan, 4)
	require.NoError(t, ds.RegisterPlugin(hashkey.PluginID(42), targetInbox, nil))

	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := inboundEnvelope{Type: inboundTriggerAction, Target: 42, ActionCode: 7, Params: []wireValue{{Kind: "int", Int: 5}}}
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	select {
	case msg := <-targetInbox:
		require.Equal(t, messages.MsgAction, msg.Kind)
		require.Equal(t, uint64(7), msg.Action.ActionCode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched action")
	}
}
