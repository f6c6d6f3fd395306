package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestBackend(t *testing.T) (*httptest.Server, string) {
	server := newDevServer("test-secret")
	assert.Equal(t, server.AddUser("a@b.c", "pw"), nil)
	ts := httptest.NewServer(server.Router())

	body, _ := json.Marshal(map[string]string{"email": "a@b.c", "password": "pw"})
	r, err := http.Post(
		fmt.Sprintf("%s/auth/v1/token?grant_type=password", ts.URL),
		"application/json",
		bytes.NewReader(body),
	)
	assert.Equal(t, err, nil)
	defer r.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
	}
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&result), nil)
	assert.NotEqual(t, "", result.AccessToken)
	return ts, result.AccessToken
}

func do(t *testing.T, method string, url string, token string, body any) *http.Response {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(bodyBytes))
	assert.Equal(t, err, nil)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	if method == "POST" {
		req.Header.Set("Prefer", "return=representation")
	}
	r, err := http.DefaultClient.Do(req)
	assert.Equal(t, err, nil)
	return r
}

// concurrent patches to one row must not corrupt it or race with the
// encoders. run with -race.
func TestConcurrentUpdatesKeepRowConsistent(t *testing.T) {
	ts, token := newTestBackend(t)
	defer ts.Close()

	r := do(t, "POST", fmt.Sprintf("%s/rest/v1/tasks", ts.URL), token, []map[string]any{{"title": "t"}})
	var inserted []map[string]any
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&inserted), nil)
	r.Body.Close()
	assert.Equal(t, 1, len(inserted))
	rowId := inserted[0]["id"].(string)

	patchUrl := fmt.Sprintf("%s/rest/v1/tasks?id=eq.%s", ts.URL, rowId)
	var wg sync.WaitGroup
	for i := 0; i < 8; i += 1 {
		wg.Add(1)
		go func(completed bool) {
			defer wg.Done()
			patchBytes, _ := json.Marshal(map[string]any{"completed": completed})
			for j := 0; j < 16; j += 1 {
				req, _ := http.NewRequest("PATCH", patchUrl, bytes.NewReader(patchBytes))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
				if r, err := http.DefaultClient.Do(req); err == nil {
					r.Body.Close()
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()

	r = do(t, "GET", fmt.Sprintf("%s/rest/v1/tasks", ts.URL), token, nil)
	var rows []map[string]any
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&rows), nil)
	r.Body.Close()
	assert.Equal(t, 1, len(rows))
	assert.Equal(t, rowId, rows[0]["id"])
	assert.Equal(t, "t", rows[0]["title"])
}

func TestUpdateImmutableColumns(t *testing.T) {
	ts, token := newTestBackend(t)
	defer ts.Close()

	r := do(t, "POST", fmt.Sprintf("%s/rest/v1/tasks", ts.URL), token, []map[string]any{{"title": "t"}})
	var inserted []map[string]any
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&inserted), nil)
	r.Body.Close()
	rowId := inserted[0]["id"].(string)

	r = do(t, "PATCH", fmt.Sprintf("%s/rest/v1/tasks?id=eq.%s", ts.URL, rowId), token, map[string]any{
		"id":        "hijack",
		"completed": true,
	})
	var updated []map[string]any
	assert.Equal(t, json.NewDecoder(r.Body).Decode(&updated), nil)
	r.Body.Close()
	assert.Equal(t, 1, len(updated))
	assert.Equal(t, rowId, updated[0]["id"])
	assert.Equal(t, true, updated[0]["completed"])
}
