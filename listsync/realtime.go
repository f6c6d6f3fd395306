package listsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"github.com/oklog/ulid/v2"
)

// push-based change feed for one collection. the subscriber never polls;
// staleness is bounded by the controller's focus and refresh resyncs.

type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

type ChangeEvent struct {
	Kind ChangeKind
	// the row after the change. empty for deletes.
	Record json.RawMessage
	// the row before the change. set for deletes.
	OldRecord json.RawMessage
}

// events are delivered in feed order, one at a time
type ChangeHandlerFunction func(event *ChangeEvent)

type RealtimeSubscriberSettings struct {
	WsHandshakeTimeout time.Duration
	JoinTimeout        time.Duration
	HeartbeatTimeout   time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	ReconnectTimeout   time.Duration
}

func DefaultRealtimeSubscriberSettings() *RealtimeSubscriberSettings {
	return &RealtimeSubscriberSettings{
		WsHandshakeTimeout: 2 * time.Second,
		JoinTimeout:        5 * time.Second,
		HeartbeatTimeout:   25 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
		ReconnectTimeout:   5 * time.Second,
	}
}

// wire frame of the feed protocol
type realtimeMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type postgresChangesData struct {
	Type      ChangeKind      `json:"type"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

type postgresChangesPayload struct {
	Data postgresChangesData `json:"data"`
}

type joinConfig struct {
	PostgresChanges []postgresChangesConfig `json:"postgres_changes"`
}

type postgresChangesConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config joinConfig `json:"config"`
}

type RealtimeSubscriber struct {
	ctx    context.Context
	cancel context.CancelFunc

	realtimeUrl string
	anonKey     string
	collection  string
	// unique per subscriber so independent screens on the same
	// collection never interfere
	channelName string

	handler ChangeHandlerFunction

	settings *RealtimeSubscriberSettings
}

func NewRealtimeSubscriberWithDefaults(
	ctx context.Context,
	realtimeUrl string,
	anonKey string,
	collection string,
	handler ChangeHandlerFunction,
) *RealtimeSubscriber {
	return NewRealtimeSubscriber(
		ctx,
		realtimeUrl,
		anonKey,
		collection,
		handler,
		DefaultRealtimeSubscriberSettings(),
	)
}

func NewRealtimeSubscriber(
	ctx context.Context,
	realtimeUrl string,
	anonKey string,
	collection string,
	handler ChangeHandlerFunction,
	settings *RealtimeSubscriberSettings,
) *RealtimeSubscriber {
	cancelCtx, cancel := context.WithCancel(ctx)
	subscriber := &RealtimeSubscriber{
		ctx:         cancelCtx,
		cancel:      cancel,
		realtimeUrl: realtimeUrl,
		anonKey:     anonKey,
		collection:  collection,
		channelName: fmt.Sprintf("%s_%s", collection, ulid.Make()),
		handler:     handler,
		settings:    settings,
	}
	go subscriber.run()
	return subscriber
}

func (self *RealtimeSubscriber) ChannelName() string {
	return self.channelName
}

func (self *RealtimeSubscriber) run() {
	defer self.cancel()

	for {
		connect := func() (*websocket.Conn, error) {
			url := fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", self.realtimeUrl, self.anonKey)
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, url, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			joinBytes, err := json.Marshal(&realtimeMessage{
				Topic: fmt.Sprintf("realtime:%s", self.channelName),
				Event: "phx_join",
				Payload: mustMarshal(&joinPayload{
					Config: joinConfig{
						PostgresChanges: []postgresChangesConfig{
							{
								Event:  "*",
								Schema: "public",
								Table:  self.collection,
							},
						},
					},
				}),
				Ref: "1",
			})
			if err != nil {
				return nil, err
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.JoinTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, joinBytes); err != nil {
				return nil, err
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[rt]%s connect error = %s\n", self.channelName, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(self.settings.HeartbeatTimeout):
					}

					heartbeatBytes, _ := json.Marshal(&realtimeMessage{
						Topic:   "phoenix",
						Event:   "heartbeat",
						Payload: json.RawMessage("{}"),
					})
					ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
					if err := ws.WriteMessage(websocket.TextMessage, heartbeatBytes); err != nil {
						// a write deadline timeout cannot be recovered
						return
					}
				}
			}()

			func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					_, messageBytes, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[rt]%s<- error = %s\n", self.channelName, err)
						return
					}

					var message realtimeMessage
					if err := json.Unmarshal(messageBytes, &message); err != nil {
						glog.V(2).Infof("[rt]%s<- bad frame\n", self.channelName)
						continue
					}

					switch message.Event {
					case "postgres_changes":
						var payload postgresChangesPayload
						if err := json.Unmarshal(message.Payload, &payload); err != nil {
							glog.V(2).Infof("[rt]%s<- bad payload\n", self.channelName)
							continue
						}
						switch payload.Data.Type {
						case ChangeInsert, ChangeUpdate, ChangeDelete:
							glog.V(2).Infof("[rt]%s<- %s\n", self.channelName, payload.Data.Type)
							self.handler(&ChangeEvent{
								Kind:      payload.Data.Type,
								Record:    payload.Data.Record,
								OldRecord: payload.Data.OldRecord,
							})
						}
					case "phx_reply", "presence_state", "system":
						// control traffic
						glog.V(2).Infof("[rt]%s<- %s\n", self.channelName, message.Event)
					}
				}
			}()
		}
		c()

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *RealtimeSubscriber) Close() {
	self.cancel()
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return json.RawMessage(b)
}
