package store

import (
	"context"
	"sync"
)

// Message is one payload delivered to a subscriber.
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages for a set of channels until closed or
// until the context it was created with is cancelled.
type Subscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
	onClose  func() error
}

func newSubscription(channels []string) *Subscription {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}

	return &Subscription{
		channels: channelMap,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

// Channel returns the message stream. It is closed by Close.
func (s *Subscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	close(s.msgChan)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		return onClose()
	}
	return nil
}

// deliver never blocks; a full buffer drops the message.
func (s *Subscription) deliver(msg *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return
	}

	select {
	case s.msgChan <- msg:
	default:
	}
}

// pubSubHub fans messages out to in-process subscribers.
type pubSubHub struct {
	subscribers map[string][]*Subscription
	mu          sync.RWMutex
}

func newPubSubHub() *pubSubHub {
	return &pubSubHub{
		subscribers: make(map[string][]*Subscription),
	}
}

func (h *pubSubHub) subscribe(ctx context.Context, channels ...string) *Subscription {
	sub := newSubscription(channels)

	h.mu.Lock()
	for _, channel := range channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *pubSubHub) remove(sub *Subscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, channel := range channels {
		subscribers := h.subscribers[channel]
		for i, s := range subscribers {
			if s == sub {
				h.subscribers[channel] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(h.subscribers[channel]) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

func (h *pubSubHub) publish(channel, payload string) int {
	h.mu.RLock()
	subscribers := make([]*Subscription, len(h.subscribers[channel]))
	copy(subscribers, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	for _, sub := range subscribers {
		sub.deliver(msg)
	}
	return len(subscribers)
}
