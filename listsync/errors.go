package listsync

import (
	"fmt"
)

// write-path errors are recoverable and local.
// the engine reverts its own in-memory change and surfaces a message.
// it never retries automatically.

// network or backend unavailable
type TransportError struct {
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport: %s", self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// the backend rejected the write, e.g. a constraint violation
type ValidationError struct {
	Message string
}

func (self *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", self.Message)
}

// the write targeted a row that no longer exists
type NotFoundError struct {
	Collection string
	ItemId     Id
}

func (self *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %s", self.Collection, self.ItemId)
}

// no active session at write time
type UnauthenticatedError struct {
}

func (self *UnauthenticatedError) Error() string {
	return "not authenticated"
}
