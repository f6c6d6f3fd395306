package listsync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestClientSettingsRealtimeUrl(t *testing.T) {
	// the feed url must be dialable straight from default settings,
	// without going through NewClient
	settings := DefaultClientSettings("https://api.example.com", "anon")
	assert.Equal(t, "wss://api.example.com", settings.RealtimeUrl)

	settings = DefaultClientSettings("http://127.0.0.1:54321", "anon")
	assert.Equal(t, "ws://127.0.0.1:54321", settings.RealtimeUrl)
}

func TestControllerCloseDetachesSession(t *testing.T) {
	client := NewClient(context.Background(), DefaultClientSettings("http://127.0.0.1:1", "anon"))
	defer client.Close()

	controller := client.NewTaskController()
	assert.Equal(t, 1, len(client.auth.sessionChangeCallbacks.Get()))

	// closing the controller releases its session callback
	controller.Close()
	assert.Equal(t, 0, len(client.auth.sessionChangeCallbacks.Get()))
}
