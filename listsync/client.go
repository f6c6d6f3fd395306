package listsync

import (
	"context"
	"strings"
)

// process-wide wiring. one client per app, created at startup and closed
// at sign out or exit. screens receive their gateway and session handle
// from here at construction; there is no ambient lookup.

type ClientSettings struct {
	ApiUrl  string
	AnonKey string
	// derived from ApiUrl when empty
	RealtimeUrl string

	ControllerSettings *ListControllerSettings
	SubscriberSettings *RealtimeSubscriberSettings
}

func DefaultClientSettings(apiUrl string, anonKey string) *ClientSettings {
	return &ClientSettings{
		ApiUrl:             apiUrl,
		AnonKey:            anonKey,
		RealtimeUrl:        wsUrl(apiUrl),
		ControllerSettings: DefaultListControllerSettings(),
		SubscriberSettings: DefaultRealtimeSubscriberSettings(),
	}
}

type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	auth *AuthApi

	settings *ClientSettings
}

func NewClient(ctx context.Context, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	if settings.RealtimeUrl == "" {
		settings.RealtimeUrl = wsUrl(settings.ApiUrl)
	}

	return &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		auth:     NewAuthApi(cancelCtx, settings.ApiUrl, settings.AnonKey),
		settings: settings,
	}
}

func (self *Client) Auth() *AuthApi {
	return self.auth
}

func (self *Client) NewTaskController() *ListController[*Task] {
	return newCollectionController[*Task](self, TaskCollection)
}

func (self *Client) NewShoppingController() *ListController[*ShoppingItem] {
	return newCollectionController[*ShoppingItem](self, ShoppingItemCollection)
}

// the controller owns the gateway and the subscription.
// the gateway follows the session so owned writes carry the current token.
func newCollectionController[T Item[T]](client *Client, collection string) *ListController[T] {
	api := NewCollectionApi[T](client.ctx, client.settings.ApiUrl, client.settings.AnonKey, collection)
	if session := client.auth.CurrentSession(); session != nil {
		api.SetAccessToken(session.AccessToken)
	}
	removeSessionCallback := client.auth.AddSessionChangeCallback(func(session *Session) {
		if session == nil {
			api.SetAccessToken("")
		} else {
			api.SetAccessToken(session.AccessToken)
		}
	})

	controller := NewListController[T](
		client.ctx,
		collection,
		api,
		client.auth,
		client.settings.ControllerSettings,
	)
	controller.Subscribe(client.settings.RealtimeUrl, client.settings.AnonKey, client.settings.SubscriberSettings)
	// the session callback and the gateway live exactly as long as the controller
	controller.AddCloseCallback(func() {
		removeSessionCallback()
		api.Close()
	})
	return controller
}

func (self *Client) Close() {
	self.cancel()
}

func wsUrl(apiUrl string) string {
	switch {
	case strings.HasPrefix(apiUrl, "https://"):
		return "wss://" + strings.TrimPrefix(apiUrl, "https://")
	case strings.HasPrefix(apiUrl, "http://"):
		return "ws://" + strings.TrimPrefix(apiUrl, "http://")
	default:
		return apiUrl
	}
}
