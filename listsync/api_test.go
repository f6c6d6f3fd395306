package listsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestFetchRecent(t *testing.T) {
	item := newShoppingItem("Milk", time.Now().UTC().Truncate(time.Second))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/rest/v1/shopping_items", r.URL.Path)
		assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]*ShoppingItem{item})
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	api.SetAccessToken("token")
	defer api.Close()

	items, err := api.FetchRecentSync(25)
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(items))
	assert.Equal(t, item.ShoppingItemId, items[0].ShoppingItemId)
	assert.Equal(t, "Milk", items[0].Name)
}

func TestInsertReturnsPersistedRow(t *testing.T) {
	item := newShoppingItem("Milk", time.Now().UTC().Truncate(time.Second))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		var rows []map[string]any
		json.NewDecoder(r.Body).Decode(&rows)
		assert.Equal(t, 1, len(rows))
		assert.Equal(t, "Milk", rows[0]["name"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]*ShoppingItem{item})
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	defer api.Close()

	inserted, err := api.InsertSync(map[string]any{"name": "Milk"})
	assert.Equal(t, err, nil)
	assert.Equal(t, item.ShoppingItemId, inserted.ShoppingItemId)
}

func TestUpdateFieldsTargetsRow(t *testing.T) {
	item := newShoppingItem("Milk", time.Now().UTC().Truncate(time.Second))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, fmt.Sprintf("eq.%s", item.ShoppingItemId), r.URL.Query().Get("id"))
		var patch map[string]any
		json.NewDecoder(r.Body).Decode(&patch)
		assert.Equal(t, true, patch["completed"])
		json.NewEncoder(w).Encode([]*ShoppingItem{item.WithCompleted(true)})
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	defer api.Close()

	err := api.UpdateFieldsSync(item.ShoppingItemId, map[string]any{"completed": true})
	assert.Equal(t, err, nil)
}

func TestUpdateFieldsMissingRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// zero rows matched the filter
		json.NewEncoder(w).Encode([]*ShoppingItem{})
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	defer api.Close()

	err := api.UpdateFieldsSync(NewId(), map[string]any{"completed": true})
	var notFoundErr *NotFoundError
	assert.Equal(t, true, errors.As(err, &notFoundErr))
}

func TestDeleteIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	defer api.Close()

	// deleting an already-deleted row succeeds
	err := api.DeleteSync(NewId())
	assert.Equal(t, err, nil)
}

func TestStatusTaxonomy(t *testing.T) {
	status := http.StatusUnauthorized
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	defer api.Close()

	_, err := api.FetchRecentSync(0)
	var unauthenticatedErr *UnauthenticatedError
	assert.Equal(t, true, errors.As(err, &unauthenticatedErr))

	status = http.StatusUnprocessableEntity
	_, err = api.FetchRecentSync(0)
	var validationErr *ValidationError
	assert.Equal(t, true, errors.As(err, &validationErr))

	status = http.StatusInternalServerError
	_, err = api.FetchRecentSync(0)
	var transportErr *TransportError
	assert.Equal(t, true, errors.As(err, &transportErr))
}

func TestNetworkFailureIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), url, "anon", ShoppingItemCollection)
	defer api.Close()

	_, err := api.FetchRecentSync(0)
	var transportErr *TransportError
	assert.Equal(t, true, errors.As(err, &transportErr))
}

func TestBlockingApiCallback(t *testing.T) {
	item := newShoppingItem("Milk", time.Now().UTC().Truncate(time.Second))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*ShoppingItem{item})
	}))
	defer server.Close()

	api := NewCollectionApi[*ShoppingItem](context.Background(), server.URL, "anon", ShoppingItemCollection)
	defer api.Close()

	callback, c := NewBlockingApiCallback[[]*ShoppingItem]()
	api.FetchRecent(0, callback)
	result := <-c
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, 1, len(result.Result))
}
