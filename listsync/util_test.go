package listsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()

	assert.Equal(t, 0, len(callbacks.Get()))

	aId := callbacks.Add(func() int { return 1 })
	callbacks.Add(func() int { return 2 })

	got := []int{}
	for _, callback := range callbacks.Get() {
		got = append(got, callback())
	}
	// add order
	assert.Equal(t, []int{1, 2}, got)

	callbacks.Remove(aId)
	got = []int{}
	for _, callback := range callbacks.Get() {
		got = append(got, callback())
	}
	assert.Equal(t, []int{2}, got)

	// remove is idempotent
	callbacks.Remove(aId)
	assert.Equal(t, 1, len(callbacks.Get()))
}

func TestIdCodec(t *testing.T) {
	id := NewId()

	parsed, err := ParseId(id.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, id, parsed)

	b, err := id.MarshalJSON()
	assert.Equal(t, err, nil)

	var decoded Id
	assert.Equal(t, decoded.UnmarshalJSON(b), nil)
	assert.Equal(t, id, decoded)

	_, err = ParseId("nope")
	assert.NotEqual(t, err, nil)
}
