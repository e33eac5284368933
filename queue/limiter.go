package queue

import (
	"context"
	"time"

	"reconcile/logger"

	"golang.org/x/time/rate"
)

// New creates a limiter writing to w. It does nothing until Run or Start is called.
func New(w Writer, opts Options) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Pause <= 0 {
		opts.Pause = DefaultPause
	}
	if opts.Idle <= 0 {
		opts.Idle = DefaultIdle
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	return &Limiter{
		writer:   w,
		opts:     opts,
		bucket:   rate.NewLimiter(rate.Every(opts.Window/time.Duration(opts.Burst)), opts.Burst),
		messages: &Queue{},
		notices:  &Queue{},
	}
}

// Enqueue places m on the queue matching its kind.
func (l *Limiter) Enqueue(m Message) {
	if m.Kind == KindNotice {
		l.notices.Enqueue(m)
		return
	}
	l.messages.Enqueue(m)
}

// Pending returns the number of queued messages and notices.
func (l *Limiter) Pending() (messages, notices int) {
	return l.messages.Len(), l.notices.Len()
}

// Burst returns the configured burst limit.
func (l *Limiter) Burst() int {
	return l.opts.Burst
}

// Run drains the queues until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := l.opts.Idle
		if l.cycle() > 0 {
			wait = l.opts.Pause
		}
		timer.Reset(wait)
	}
}

// Start runs the pacing loop in its own goroutine.
func (l *Limiter) Start(ctx context.Context) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)
		l.Run(ctx)
	}()
}

// Stop halts a loop started with Start and waits for it to exit. Queued
// messages are discarded. It reports false if the loop was not running.
func (l *Limiter) Stop() bool {
	l.mutex.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mutex.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done

	dropped := l.messages.Clear() + l.notices.Clear()
	if dropped > 0 {
		logger.Debug("Discarded queued messages", "count", dropped)
	}
	return true
}

// cycle sends one burst. Ordinary messages take priority; notices are only
// drained when no message went out. It returns the number of lines written.
func (l *Limiter) cycle() int {
	sent := l.drain(l.messages)
	if sent == 0 {
		sent = l.drain(l.notices)
	}
	return sent
}

func (l *Limiter) drain(q *Queue) int {
	sent := 0
	for sent < l.opts.Burst {
		if q.IsEmpty() || !l.bucket.Allow() {
			break
		}
		m, ok := q.Dequeue()
		if !ok {
			break
		}

		if err := l.writer.WriteLine(m.Line()); err != nil {
			logger.Warn("Failed to write queued message", "target", m.Target, "error", err)
			break
		}
		sent++

		if l.opts.OnSend != nil {
			l.opts.OnSend(m)
		}
	}
	return sent
}
