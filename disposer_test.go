package bookledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSubscription struct {
	unsubscribed int
	errc         chan error
}

func (s *fakeSubscription) Unsubscribe() { s.unsubscribed++ }
func (s *fakeSubscription) Err() <-chan error { return s.errc }

func TestDisposer_ReverseOrder(t *testing.T) {
	d := NewDisposer()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		d.Add(func() { order = append(order, i) })
	}
	assert.Equal(t, 3, d.Len())

	d.Dispose()
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, 0, d.Len())
}

func TestDisposer_RunsOnce(t *testing.T) {
	d := NewDisposer()
	calls := 0
	d.Add(func() { calls++ })

	d.Dispose()
	d.Dispose()
	assert.Equal(t, 1, calls)
}

func TestDisposer_IgnoresNil(t *testing.T) {
	d := NewDisposer()
	d.Add(nil)
	d.AddSubscription(nil)
	assert.Equal(t, 0, d.Len())
	assert.NotPanics(t, d.Dispose)
}

func TestDisposer_AddAfterDispose(t *testing.T) {
	d := NewDisposer()
	d.Dispose()

	calls := 0
	d.Add(func() { calls++ })
	assert.Equal(t, 1, calls, "late registrations run immediately")
	assert.Equal(t, 0, d.Len())
}

func TestDisposer_Subscription(t *testing.T) {
	d := NewDisposer()
	sub := &fakeSubscription{errc: make(chan error)}
	d.AddSubscription(sub)

	d.Dispose()
	assert.Equal(t, 1, sub.unsubscribed)
}
