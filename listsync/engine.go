package listsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// one controller per active list screen. the controller exclusively owns
// its mirror store; independent screens on the same collection each hold
// their own copy, synchronized through their own subscription.
//
// per item the lifecycle is:
// absent -> present(confirmed) <-> present(pending write)
//   -> present(confirmed) | rolled back to the prior present state
//
// every write failure is recoverable and local: the in-memory change is
// reverted and a user-visible message is surfaced. no automatic retry.

type ChangeFunction = func()
type ErrorFunction = func(message string)

type ListControllerSettings struct {
	// 0 means no limit
	FetchLimit int
}

func DefaultListControllerSettings() *ListControllerSettings {
	return &ListControllerSettings{
		FetchLimit: 0,
	}
}

// read-only view of the authenticated session
type SessionSource interface {
	CurrentSession() *Session
}

type ListController[T Item[T]] struct {
	ctx    context.Context
	cancel context.CancelFunc

	collection string
	api        CollectionGateway[T]
	session    SessionSource

	store *mirrorStore[T]

	subscriber *RealtimeSubscriber

	changeCallbacks *CallbackList[ChangeFunction]
	errorCallbacks  *CallbackList[ErrorFunction]
	closeCallbacks  *CallbackList[func()]

	settings *ListControllerSettings
}

func NewListControllerWithDefaults[T Item[T]](
	ctx context.Context,
	collection string,
	api CollectionGateway[T],
	session SessionSource,
) *ListController[T] {
	return NewListController(ctx, collection, api, session, DefaultListControllerSettings())
}

func NewListController[T Item[T]](
	ctx context.Context,
	collection string,
	api CollectionGateway[T],
	session SessionSource,
	settings *ListControllerSettings,
) *ListController[T] {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ListController[T]{
		ctx:             cancelCtx,
		cancel:          cancel,
		collection:      collection,
		api:             api,
		session:         session,
		store:           newMirrorStore[T](),
		changeCallbacks: NewCallbackList[ChangeFunction](),
		errorCallbacks:  NewCallbackList[ErrorFunction](),
		closeCallbacks:  NewCallbackList[func()](),
		settings:        settings,
	}
}

// open the live change feed for this controller.
// the feed is closed with the controller.
func (self *ListController[T]) Subscribe(realtimeUrl string, anonKey string, settings *RealtimeSubscriberSettings) {
	if self.subscriber != nil {
		return
	}
	self.subscriber = NewRealtimeSubscriber(
		self.ctx,
		realtimeUrl,
		anonKey,
		self.collection,
		self.ApplyChange,
		settings,
	)
}

func (self *ListController[T]) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *ListController[T]) AddErrorCallback(errorCallback ErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(errorCallback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}

// cleanup hooks for resources scoped to this controller's lifetime,
// run once on close
func (self *ListController[T]) AddCloseCallback(closeCallback func()) func() {
	callbackId := self.closeCallbacks.Add(closeCallback)
	return func() {
		self.closeCallbacks.Remove(callbackId)
	}
}

// snapshot copy, newest first
func (self *ListController[T]) Items() []T {
	return self.store.Items()
}

func (self *ListController[T]) Size() int {
	return self.store.Size()
}

// authoritative resync. replaces local contents and order, overriding
// any local divergence. used on initial load, focus, and refresh.
func (self *ListController[T]) Refresh() error {
	items, err := self.api.FetchRecentSync(self.settings.FetchLimit)
	if err != nil {
		self.surfaceError("fetch", err)
		return err
	}
	if self.closed() {
		return nil
	}
	self.store.ReplaceAll(items)
	self.notifyChange()
	return nil
}

// nothing is added locally until the server acknowledges the insert.
// on success the persisted row is prepended, consistent with newest
// first order. on failure the attempted input is not restored.
func (self *ListController[T]) Add(fields map[string]any) (T, error) {
	var empty T

	session := self.session.CurrentSession()
	if session == nil {
		err := &UnauthenticatedError{}
		self.surfaceError("add", err)
		return empty, err
	}

	insertFields := map[string]any{
		"user_id": session.UserId.String(),
	}
	for name, value := range fields {
		insertFields[name] = value
	}

	item, err := self.api.InsertSync(insertFields)
	if err != nil {
		self.surfaceError("add", err)
		return empty, err
	}
	if self.closed() {
		return item, nil
	}
	self.store.Prepend(item)
	self.notifyChange()
	return item, nil
}

func (self *ListController[T]) Toggle(itemId Id) error {
	item, ok := self.store.Get(itemId)
	if !ok {
		return &NotFoundError{
			Collection: self.collection,
			ItemId:     itemId,
		}
	}
	next := item.WithCompleted(!item.ItemCompleted())
	return self.optimisticUpdate(itemId, item, next, map[string]any{
		"completed": next.ItemCompleted(),
	})
}

// apply the new value locally first, then confirm with the server.
// on failure restore the snapshot captured when this call started,
// for this id only. overlapping calls on the same id race by design:
// the last store write wins, and the next resync closes any gap.
func (self *ListController[T]) optimisticUpdate(itemId Id, snapshot T, next T, fieldPatch map[string]any) error {
	self.store.Update(next)
	self.notifyChange()

	err := self.api.UpdateFieldsSync(itemId, fieldPatch)
	if err != nil {
		if !self.closed() {
			self.store.Update(snapshot)
			self.notifyChange()
		}
		self.surfaceError("update", err)
		return err
	}
	return nil
}

// remove locally first. on failure the removed item is restored at the
// tail; the next resync restores true order.
func (self *ListController[T]) Remove(itemId Id) error {
	removed, ok := self.store.Remove(itemId)
	if !ok {
		return nil
	}
	self.notifyChange()

	err := self.api.DeleteSync(itemId)
	if err != nil {
		if !self.closed() {
			self.store.Append(removed)
			self.notifyChange()
		}
		self.surfaceError("delete", err)
		return err
	}
	return nil
}

// push-merge. events from the feed bypass the optimistic path entirely.
// duplicate delivery of an identical event is a harmless no-op.
func (self *ListController[T]) ApplyChange(event *ChangeEvent) {
	if self.closed() {
		return
	}

	switch event.Kind {
	case ChangeInsert:
		// resync instead of a point insert. this guarantees order and
		// uniqueness without separate insert-position logic.
		self.Refresh()
	case ChangeUpdate:
		// a null or empty record would unmarshal to a nil item
		record := bytes.TrimSpace(event.Record)
		if len(record) == 0 || bytes.Equal(record, []byte("null")) {
			glog.V(2).Infof("[sync]%s empty update record\n", self.collection)
			return
		}
		var item T
		if err := json.Unmarshal(record, &item); err != nil {
			glog.V(2).Infof("[sync]%s bad update record\n", self.collection)
			return
		}
		if (item.ItemId() == Id{}) {
			return
		}
		// rows not present locally are dropped, never inserted
		if self.store.Update(item) {
			self.notifyChange()
		}
	case ChangeDelete:
		var prior struct {
			Id Id `json:"id"`
		}
		if err := json.Unmarshal(event.OldRecord, &prior); err != nil {
			glog.V(2).Infof("[sync]%s bad delete record\n", self.collection)
			return
		}
		if (prior.Id == Id{}) {
			return
		}
		if _, ok := self.store.Remove(prior.Id); ok {
			self.notifyChange()
		}
	}
}

// after close, late completions from in-flight operations and any
// still-queued feed events are ignored
func (self *ListController[T]) Close() {
	self.cancel()
	if self.subscriber != nil {
		self.subscriber.Close()
	}
	for _, closeCallback := range self.closeCallbacks.Get() {
		closeCallback()
	}
}

func (self *ListController[T]) closed() bool {
	return self.ctx.Err() != nil
}

func (self *ListController[T]) notifyChange() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}

func (self *ListController[T]) surfaceError(op string, err error) {
	message := userMessage(self.collection, op, err)
	glog.Infof("[sync]%s %s error = %s\n", self.collection, op, err)
	for _, errorCallback := range self.errorCallbacks.Get() {
		errorCallback(message)
	}
}

func userMessage(collection string, op string, err error) string {
	var unauthenticatedErr *UnauthenticatedError
	if errors.As(err, &unauthenticatedErr) {
		return "You must be signed in"
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return fmt.Sprintf("That %s item no longer exists", collection)
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Sprintf("The change was rejected: %s", validationErr.Message)
	}
	return fmt.Sprintf("Failed to %s. Check your connection and try again.", op)
}

// decrement never goes below one
func AdjustQuantity[T interface {
	Item[T]
	ItemQuantity() int
	WithQuantity(quantity int) T
}](controller *ListController[T], itemId Id, delta int) error {
	item, ok := controller.store.Get(itemId)
	if !ok {
		return &NotFoundError{
			Collection: controller.collection,
			ItemId:     itemId,
		}
	}
	quantity := item.ItemQuantity() + delta
	if quantity < 1 {
		quantity = 1
	}
	next := item.WithQuantity(quantity)
	return controller.optimisticUpdate(itemId, item, next, map[string]any{
		"quantity": quantity,
	})
}
