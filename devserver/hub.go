package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

const subscriberSendBufferSize = 16
const subscriberWriteTimeout = 5 * time.Second

// fan-out of row changes to joined websocket channels.
// a channel name is <table>_<unique suffix>, so routing is by table prefix.
type changeHub struct {
	upgrader websocket.Upgrader

	stateLock   sync.Mutex
	subscribers map[*hubSubscriber]bool
}

type hubSubscriber struct {
	send chan []byte

	stateLock sync.Mutex
	// table -> joined topic
	topics map[string]string
}

func newChangeHub() *changeHub {
	return &changeHub{
		upgrader:    websocket.Upgrader{},
		subscribers: map[*hubSubscriber]bool{},
	}
}

type hubMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

func (self *changeHub) Handler(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	subscriber := &hubSubscriber{
		send:   make(chan []byte, subscriberSendBufferSize),
		topics: map[string]string{},
	}

	self.stateLock.Lock()
	self.subscribers[subscriber] = true
	self.stateLock.Unlock()

	defer func() {
		self.stateLock.Lock()
		delete(self.subscribers, subscriber)
		self.stateLock.Unlock()
		ws.Close()
	}()

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case messageBytes, ok := <-subscriber.send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(subscriberWriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	for {
		var message hubMessage
		if err := ws.ReadJSON(&message); err != nil {
			return
		}

		switch message.Event {
		case "phx_join":
			channelName := strings.TrimPrefix(message.Topic, "realtime:")
			table := channelTable(channelName)
			if table == "" {
				glog.V(2).Infof("[dev]join unknown channel %s\n", channelName)
				continue
			}
			subscriber.stateLock.Lock()
			subscriber.topics[table] = message.Topic
			subscriber.stateLock.Unlock()
			self.reply(subscriber, message, `{"status":"ok","response":{}}`)
		case "heartbeat":
			self.reply(subscriber, message, `{"status":"ok","response":{}}`)
		case "phx_leave":
			channelName := strings.TrimPrefix(message.Topic, "realtime:")
			if table := channelTable(channelName); table != "" {
				subscriber.stateLock.Lock()
				delete(subscriber.topics, table)
				subscriber.stateLock.Unlock()
			}
		}
	}
}

func (self *changeHub) reply(subscriber *hubSubscriber, message hubMessage, payload string) {
	replyBytes, _ := json.Marshal(&hubMessage{
		Topic:   message.Topic,
		Event:   "phx_reply",
		Payload: json.RawMessage(payload),
		Ref:     message.Ref,
	})
	select {
	case subscriber.send <- replyBytes:
	default:
		// slow subscriber, drop
	}
}

func (self *changeHub) Broadcast(table string, changeType string, record map[string]any, oldRecord map[string]any) {
	data := map[string]any{
		"type": changeType,
	}
	if record != nil {
		data["record"] = record
	}
	if oldRecord != nil {
		data["old_record"] = oldRecord
	}
	payloadBytes, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return
	}

	self.stateLock.Lock()
	subscribers := make([]*hubSubscriber, 0, len(self.subscribers))
	for subscriber := range self.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	self.stateLock.Unlock()

	for _, subscriber := range subscribers {
		subscriber.stateLock.Lock()
		topic, joined := subscriber.topics[table]
		subscriber.stateLock.Unlock()
		if !joined {
			continue
		}

		messageBytes, _ := json.Marshal(&hubMessage{
			Topic:   topic,
			Event:   "postgres_changes",
			Payload: json.RawMessage(payloadBytes),
		})
		select {
		case subscriber.send <- messageBytes:
		default:
			glog.V(2).Infof("[dev]drop %s %s\n", table, changeType)
		}
	}
}

// tasks_01H... -> tasks, shopping_items_01H... -> shopping_items
func channelTable(channelName string) string {
	for table := range collections {
		if strings.HasPrefix(channelName, table+"_") || channelName == table {
			return table
		}
	}
	return ""
}
