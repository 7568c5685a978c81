// Package spinner renders a single-line animated progress indicator.
package spinner

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const frameInterval = 80 * time.Millisecond

// Spinner animates a message on one terminal line. The message can be
// swapped while it runs. Safe for concurrent use.
type Spinner struct {
	w io.Writer

	mu      sync.Mutex
	message string
	width   int
	done    chan struct{}
	cleared chan struct{}
}

// Start begins animating message on w.
func Start(w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:       w,
		message: message,
		done:    make(chan struct{}),
		cleared: make(chan struct{}),
	}
	go s.loop()
	return s
}

// SetMessage swaps the displayed message on the next frame.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears the line. Stop is idempotent.
func (s *Spinner) Stop() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
		close(s.done)
	}
	s.mu.Unlock()
	<-s.cleared
}

func (s *Spinner) loop() {
	i := 0
	for {
		select {
		case <-s.done:
			s.mu.Lock()
			fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width+2)) //nolint:errcheck
			s.mu.Unlock()
			close(s.cleared)
			return
		case <-time.After(frameInterval):
			s.mu.Lock()
			msg := s.message
			if len(msg) > s.width {
				s.width = len(msg)
			}
			fmt.Fprintf(s.w, "\r%s %s", frames[i%len(frames)], msg) //nolint:errcheck
			s.mu.Unlock()
			i++
		}
	}
}
