package listsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// request/response gateway to one named server-owned collection.
// all operations are implicitly scoped to the bearer token's identity
// by the backend's row-level authorization. reads never accept a
// caller-supplied owner.
type CollectionGateway[T Item[T]] interface {
	FetchRecentSync(limit int) ([]T, error)
	InsertSync(fields map[string]any) (T, error)
	UpdateFieldsSync(itemId Id, fieldPatch map[string]any) error
	DeleteSync(itemId Id) error
}

type CollectionApi[T Item[T]] struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl     string
	anonKey    string
	collection string

	accessToken string
}

func NewCollectionApi[T Item[T]](ctx context.Context, apiUrl string, anonKey string, collection string) *CollectionApi[T] {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &CollectionApi[T]{
		ctx:        cancelCtx,
		cancel:     cancel,
		apiUrl:     apiUrl,
		anonKey:    anonKey,
		collection: collection,
	}
}

// this gets attached to api calls that need it
func (self *CollectionApi[T]) SetAccessToken(accessToken string) {
	self.accessToken = accessToken
}

func (self *CollectionApi[T]) Collection() string {
	return self.collection
}

func (self *CollectionApi[T]) FetchRecent(limit int, callback apiCallback[[]T]) {
	go self.FetchRecentSync2(limit, callback)
}

func (self *CollectionApi[T]) FetchRecentSync(limit int) ([]T, error) {
	return self.FetchRecentSync2(limit, NewNoopApiCallback[[]T]())
}

// newest first by server create time
func (self *CollectionApi[T]) FetchRecentSync2(limit int, callback apiCallback[[]T]) ([]T, error) {
	url := fmt.Sprintf(
		"%s/rest/v1/%s?select=*&order=created_at.desc",
		self.apiUrl,
		self.collection,
	)
	if 0 < limit {
		url = fmt.Sprintf("%s&limit=%d", url, limit)
	}
	items := []T{}
	err := self.request("GET", url, nil, nil, &items)
	if err != nil {
		var empty []T
		callback.Result(empty, err)
		return empty, err
	}
	callback.Result(items, nil)
	return items, nil
}

func (self *CollectionApi[T]) Insert(fields map[string]any, callback apiCallback[T]) {
	go self.insertSync2(fields, callback)
}

// the server fills id and created_at. the persisted row is returned.
func (self *CollectionApi[T]) InsertSync(fields map[string]any) (T, error) {
	return self.insertSync2(fields, NewNoopApiCallback[T]())
}

func (self *CollectionApi[T]) insertSync2(fields map[string]any, callback apiCallback[T]) (T, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", self.apiUrl, self.collection)
	headers := map[string]string{
		"Prefer": "return=representation",
	}
	rows := []T{}
	err := self.request("POST", url, []map[string]any{fields}, headers, &rows)
	var empty T
	if err != nil {
		callback.Result(empty, err)
		return empty, err
	}
	if len(rows) == 0 {
		err = &ValidationError{
			Message: "insert returned no row",
		}
		callback.Result(empty, err)
		return empty, err
	}
	callback.Result(rows[0], nil)
	return rows[0], nil
}

func (self *CollectionApi[T]) UpdateFields(itemId Id, fieldPatch map[string]any, callback apiCallback[T]) {
	go func() {
		err := self.UpdateFieldsSync(itemId, fieldPatch)
		var empty T
		callback.Result(empty, err)
	}()
}

func (self *CollectionApi[T]) UpdateFieldsSync(itemId Id, fieldPatch map[string]any) error {
	url := fmt.Sprintf(
		"%s/rest/v1/%s?id=eq.%s",
		self.apiUrl,
		self.collection,
		itemId,
	)
	headers := map[string]string{
		"Prefer": "return=representation",
	}
	rows := []T{}
	err := self.request("PATCH", url, fieldPatch, headers, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// the row no longer exists
		return &NotFoundError{
			Collection: self.collection,
			ItemId:     itemId,
		}
	}
	return nil
}

func (self *CollectionApi[T]) Delete(itemId Id, callback apiCallback[bool]) {
	go func() {
		err := self.DeleteSync(itemId)
		callback.Result(err == nil, err)
	}()
}

// deleting an already-deleted id is treated as success
func (self *CollectionApi[T]) DeleteSync(itemId Id) error {
	url := fmt.Sprintf(
		"%s/rest/v1/%s?id=eq.%s",
		self.apiUrl,
		self.collection,
		itemId,
	)
	err := self.request("DELETE", url, nil, nil, nil)
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return nil
	}
	return err
}

func (self *CollectionApi[T]) Close() {
	self.cancel()
}

func (self *CollectionApi[T]) request(method string, url string, args any, headers map[string]string, result any) error {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(self.ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("apikey", self.anonKey)
	bearer := self.accessToken
	if bearer == "" {
		bearer = self.anonKey
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", bearer))
	for name, value := range headers {
		req.Header.Add(name, value)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		glog.V(2).Infof("[api]%s %s error = %s\n", method, self.collection, err)
		return &TransportError{
			Err: err,
		}
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return &TransportError{
			Err: err,
		}
	}

	if statusErr := self.statusError(r.StatusCode, responseBodyBytes); statusErr != nil {
		glog.V(2).Infof("[api]%s %s status %d\n", method, self.collection, r.StatusCode)
		return statusErr
	}

	if result != nil && 0 < len(responseBodyBytes) {
		if err := json.Unmarshal(responseBodyBytes, result); err != nil {
			return &TransportError{
				Err: err,
			}
		}
	}
	return nil
}

func (self *CollectionApi[T]) statusError(statusCode int, responseBodyBytes []byte) error {
	if statusCode < 400 {
		return nil
	}
	// the response body carries the error message
	message := strings.TrimSpace(string(responseBodyBytes))
	switch {
	case statusCode == 401 || statusCode == 403:
		return &UnauthenticatedError{}
	case statusCode == 404 || statusCode == 406:
		return &NotFoundError{
			Collection: self.collection,
		}
	case statusCode < 500:
		return &ValidationError{
			Message: message,
		}
	default:
		return &TransportError{
			Err: fmt.Errorf("status %d: %s", statusCode, message),
		}
	}
}
