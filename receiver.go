package dianya

import (
	"context"
	"sync"
)

// Handler consumes events delivered by a receive loop. Calls for one stream
// never overlap.
type Handler func(Event)

// Subscription controls one receive loop.
type Subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription() *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel asks the loop to exit. No event is delivered after Cancel returns.
func (sub *Subscription) Cancel() {
	sub.cancel()
}

// Done is closed when the loop has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Err returns the error that terminated the loop, if any.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) setErr(err error) {
	sub.mu.Lock()
	sub.err = err
	sub.mu.Unlock()
}

// StartReceiving runs a receive loop in its own goroutine and delivers
// events to handler in arrival order. Any loop already running on the
// stream is cancelled first.
//
// The loop exits after delivering a stop or error event, when cancelled or
// the stream is stopped, or after reporting a transport failure as a single
// EventError. Undecodable frames are logged and skipped. A loop started on a
// stopped stream is done immediately.
func (s *Stream) StartReceiving(handler Handler) *Subscription {
	sub := newSubscription()
	s.start(sub, handler)
	return sub
}

// Events is the channel form of StartReceiving. The channel is closed when
// the loop exits or ctx is done.
func (s *Stream) Events(ctx context.Context, buffer int) <-chan Event {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	sub := newSubscription()

	s.start(sub, func(ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		case <-sub.ctx.Done():
		}
	})

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
			<-sub.done
		case <-sub.done:
		}
		close(ch)
	}()
	return ch
}

// StopReceiving cancels the active receive loop, if any.
func (s *Stream) StopReceiving() {
	s.cancelLoop()
}

func (s *Stream) start(sub *Subscription, handler Handler) {
	if handler == nil {
		handler = func(Event) {}
	}

	s.loopMu.Lock()
	prev := s.loop
	s.loop = sub
	s.loopMu.Unlock()

	if prev != nil {
		s.logger.Debug("replacing active receive loop")
		prev.Cancel()
	}

	go s.receiveLoop(sub, handler)
}

func (s *Stream) cancelLoop() {
	s.loopMu.Lock()
	sub := s.loop
	s.loop = nil
	s.loopMu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (s *Stream) clearLoop(sub *Subscription) {
	s.loopMu.Lock()
	if s.loop == sub {
		s.loop = nil
	}
	s.loopMu.Unlock()
}

func (s *Stream) receiveLoop(sub *Subscription, handler Handler) {
	defer close(sub.done)
	defer s.clearLoop(sub)

	var received, timeouts int
	s.logger.Debug("receive loop started")
	defer func() {
		s.logger.Debug("receive loop ended", "received", received, "timeouts", timeouts)
	}()

	for {
		if sub.ctx.Err() != nil || s.isStopped() {
			return
		}

		ev, err := s.Receive(s.options.ReceiveTimeout)
		if err != nil {
			if IsKind(err, ErrorKindDecoding) {
				s.logger.Warn("skipping undecodable frame", "error", err)
				continue
			}
			if sub.ctx.Err() != nil {
				return
			}
			sub.setErr(err)
			s.deliver(sub, handler, transportErrorEvent(err))
			return
		}
		if ev == nil {
			timeouts++
			continue
		}

		received++
		switch ev.Kind {
		case EventUnknown:
			s.logger.Debug("unknown message type", "type", ev.Type)
		case EventError:
			s.logger.Error("server reported error", "detail", ev.Detail)
			sub.setErr(ev.Err)
		case EventStop:
			s.logger.Info("server requested stop")
		}

		if !s.deliver(sub, handler, *ev) {
			return
		}
		if ev.Terminal() {
			return
		}
	}
}

// deliver runs handler on the stream's single delivery path. Events of a
// cancelled loop are dropped.
func (s *Stream) deliver(sub *Subscription, handler Handler, ev Event) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if sub.ctx.Err() != nil {
		return false
	}
	handler(ev)
	return true
}
