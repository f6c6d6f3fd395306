package listsync

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// a row in a server-owned list collection
// rows are ordered newest first by the server-assigned create time
type Item[T any] interface {
	ItemId() Id
	ItemCreatedAt() time.Time
	ItemCompleted() bool
	WithCompleted(completed bool) T
}

const TaskCollection = "tasks"
const ShoppingItemCollection = "shopping_items"

type Task struct {
	TaskId    Id        `json:"id"`
	UserId    Id        `json:"user_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// Item implementation

func (self *Task) ItemId() Id {
	return self.TaskId
}

func (self *Task) ItemCreatedAt() time.Time {
	return self.CreatedAt
}

func (self *Task) ItemCompleted() bool {
	return self.Completed
}

func (self *Task) WithCompleted(completed bool) *Task {
	next := *self
	next.Completed = completed
	return &next
}

type ShoppingItem struct {
	ShoppingItemId Id        `json:"id"`
	UserId         Id        `json:"user_id"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	Completed      bool      `json:"completed"`
	CreatedAt      time.Time `json:"created_at"`
}

// Item implementation

func (self *ShoppingItem) ItemId() Id {
	return self.ShoppingItemId
}

func (self *ShoppingItem) ItemCreatedAt() time.Time {
	return self.CreatedAt
}

func (self *ShoppingItem) ItemCompleted() bool {
	return self.Completed
}

func (self *ShoppingItem) WithCompleted(completed bool) *ShoppingItem {
	next := *self
	next.Completed = completed
	return &next
}

func (self *ShoppingItem) ItemQuantity() int {
	if self.Quantity < 1 {
		return 1
	}
	return self.Quantity
}

func (self *ShoppingItem) WithQuantity(quantity int) *ShoppingItem {
	next := *self
	next.Quantity = quantity
	return &next
}
