package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriberSet_RemoveMiddleKeepsLaterHandlers(t *testing.T) {
	s := newSubscriberSet()
	var got []string
	record := func(tag string) func([]byte) {
		return func([]byte) { got = append(got, tag) }
	}

	removeA := s.add("ev", record("a"))
	removeB := s.add("ev", record("b"))
	removeC := s.add("ev", record("c"))

	// Removing an earlier subscriber must not shift which handler a later
	// remove drops.
	removeA()
	removeB()

	for _, h := range s.handlers("ev") {
		h(nil)
	}
	assert.Equal(t, []string{"c"}, got)

	removeC()
	assert.Empty(t, s.handlers("ev"))
}

func TestSubscriberSet_RemoveIsIdempotent(t *testing.T) {
	s := newSubscriberSet()
	calls := 0
	remove := s.add("ev", func([]byte) { calls++ })
	keep := s.add("ev", func([]byte) { calls++ })

	remove()
	remove()

	for _, h := range s.handlers("ev") {
		h(nil)
	}
	assert.Equal(t, 1, calls)

	keep()
	assert.Empty(t, s.handlers("ev"))
}

func TestSubscriberSet_HandlersKeepRegistrationOrder(t *testing.T) {
	s := newSubscriberSet()
	var got []string
	for _, tag := range []string{"first", "second", "third"} {
		tag := tag
		s.add("ev", func([]byte) { got = append(got, tag) })
	}
	for _, h := range s.handlers("ev") {
		h(nil)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}
