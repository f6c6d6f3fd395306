package listsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

func TestRealtimeSubscriberDeliversInOrder(t *testing.T) {
	upgrader := websocket.Upgrader{}

	item := newShoppingItem("Milk", time.Now().UTC().Truncate(time.Second))
	recordBytes, _ := json.Marshal(item)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/websocket", r.URL.Path)
		assert.Equal(t, "anon", r.URL.Query().Get("apikey"))

		ws, err := upgrader.Upgrade(w, r, nil)
		assert.Equal(t, err, nil)
		defer ws.Close()

		var join realtimeMessage
		err = ws.ReadJSON(&join)
		assert.Equal(t, err, nil)
		assert.Equal(t, "phx_join", join.Event)
		assert.Equal(t, true, strings.HasPrefix(join.Topic, "realtime:shopping_items_"))

		var payload joinPayload
		json.Unmarshal(join.Payload, &payload)
		assert.Equal(t, 1, len(payload.Config.PostgresChanges))
		assert.Equal(t, "shopping_items", payload.Config.PostgresChanges[0].Table)

		ws.WriteJSON(&realtimeMessage{
			Topic:   join.Topic,
			Event:   "phx_reply",
			Payload: json.RawMessage(`{"status":"ok"}`),
			Ref:     join.Ref,
		})

		for _, kind := range []ChangeKind{ChangeInsert, ChangeUpdate, ChangeDelete} {
			data := postgresChangesData{
				Type: kind,
			}
			if kind == ChangeDelete {
				data.OldRecord = recordBytes
			} else {
				data.Record = recordBytes
			}
			payloadBytes, _ := json.Marshal(&postgresChangesPayload{Data: data})
			ws.WriteJSON(&realtimeMessage{
				Topic:   join.Topic,
				Event:   "postgres_changes",
				Payload: payloadBytes,
			})
		}

		// hold the connection open until the client goes away
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	events := make(chan *ChangeEvent, 8)
	subscriber := NewRealtimeSubscriberWithDefaults(
		context.Background(),
		wsUrl(server.URL),
		"anon",
		ShoppingItemCollection,
		func(event *ChangeEvent) {
			events <- event
		},
	)
	defer subscriber.Close()

	expectKind := func(kind ChangeKind) *ChangeEvent {
		select {
		case event := <-events:
			assert.Equal(t, kind, event.Kind)
			return event
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s", kind)
			return nil
		}
	}

	insert := expectKind(ChangeInsert)
	var inserted ShoppingItem
	assert.Equal(t, json.Unmarshal(insert.Record, &inserted), nil)
	assert.Equal(t, item.ShoppingItemId, inserted.ShoppingItemId)

	expectKind(ChangeUpdate)

	deleted := expectKind(ChangeDelete)
	var prior ShoppingItem
	assert.Equal(t, json.Unmarshal(deleted.OldRecord, &prior), nil)
	assert.Equal(t, item.ShoppingItemId, prior.ShoppingItemId)
}

func TestRealtimeChannelNamesAreUnique(t *testing.T) {
	// independent screens on the same collection must not interfere
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s1 := NewRealtimeSubscriberWithDefaults(ctx, "ws://127.0.0.1:1", "anon", TaskCollection, func(event *ChangeEvent) {})
	s2 := NewRealtimeSubscriberWithDefaults(ctx, "ws://127.0.0.1:1", "anon", TaskCollection, func(event *ChangeEvent) {})
	defer s1.Close()
	defer s2.Close()

	assert.Equal(t, true, strings.HasPrefix(s1.ChannelName(), "tasks_"))
	assert.NotEqual(t, s1.ChannelName(), s2.ChannelName())
}
