package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner draws a single animated status line while a blocking step runs,
// such as dialing the relay or acquiring the audio source.
type Spinner struct {
	out      io.Writer
	frames   []string
	interval time.Duration
	message  string

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newSpinner(out io.Writer, s spinner.Spinner, message string) *Spinner {
	return &Spinner{
		out:      out,
		frames:   s.Frames,
		interval: s.FPS,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewConnectionSpinner creates a spinner for network steps (Globe style).
func NewConnectionSpinner(out io.Writer, message string) *Spinner {
	return newSpinner(out, spinner.Globe, message)
}

func (s *Spinner) Start() *Spinner {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// Stop halts the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}
