// Package coroutine adapts an ordinary, sequential Go function onto the
// scheduler's callback system, so program logic can be written as
// "do A; wait 3s; do B" instead of a hand-rolled state machine. A single
// Body type covers free functions and method values alike, since a Go
// closure captures its receiver naturally.
package coroutine

import "github.com/linuxmatters/jivebox/internal/scheduler"

// Yield suspends the running coroutine and asks to be resumed
// delaySeconds of scheduler time later. It must only be called from
// within the Body passed to Run (or something it calls).
type Yield func(delaySeconds float64)

// Body is the coroutine's logic: an ordinary blocking function that
// calls yield every time it wants to suspend. Returning ends the
// coroutine; there is no result value (program logic communicates
// results through its own closures, same as the scheduling calls it
// makes along the way).
type Body func(yield Yield)

// Run starts body as a coroutine driven by s. The body begins running
// when s first processes its initial callback (at the scheduler's
// current position, not at the moment Run is called), and each
// subsequent resumption happens exactly delaySeconds after the
// preceding yield, so every scheduling call body makes is stamped with
// s's frame offset at that exact instant.
//
// This runs body on its own goroutine, but the handshake below ensures
// at most one of {body, the scheduler} ever runs at a time: it is a
// stackful coroutine, not concurrency.
func Run(s *scheduler.Scheduler, body Body) {
	proceed := make(chan struct{})
	delay := make(chan float64)
	done := make(chan struct{})

	yield := func(d float64) {
		delay <- d
		<-proceed
	}

	go func() {
		<-proceed
		body(yield)
		close(done)
	}()

	var step func(seconds float64)
	step = func(seconds float64) {
		s.AddCallback(seconds, func(s *scheduler.Scheduler) {
			proceed <- struct{}{}
			select {
			case d := <-delay:
				step(d)
			case <-done:
			}
		})
	}
	step(0)
}
