package dispatch

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoHandler = errors.New("no handler registered for action")

type Handler func(cmd Command)

type subscription struct {
	handler Handler
}

// Bus routes commands to the handlers registered for their action.
// Handlers run synchronously on the publishing goroutine, in
// subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Action][]*subscription
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Action][]*subscription),
	}
}

// Subscribe registers handler for action and returns a function that
// removes it again.
func (b *Bus) Subscribe(action Action, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{handler: handler}
	b.handlers[action] = append(b.handlers[action], sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(action, sub) })
	}
}

func (b *Bus) unsubscribe(action Action, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[action]
	for i, s := range subs {
		if s == sub {
			b.handlers[action] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[action]) == 0 {
		delete(b.handlers, action)
	}
}

func (b *Bus) Publish(cmd Command) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.handlers[cmd.Action]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandler, cmd.Action)
	}
	for _, s := range subs {
		s.handler(cmd)
	}
	return nil
}

func (b *Bus) HasHandler(action Action) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[action]) > 0
}
