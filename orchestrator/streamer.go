package orchestrator

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"enhanceswarm/log"
)

// streamFallbackInterval bounds how stale a tail can get if filesystem events
// are lost or unavailable.
const streamFallbackInterval = 500 * time.Millisecond

// OutputStreamer tails each agent's output file into a bounded per-agent ring
// buffer. Oldest lines are dropped on overflow; the producing process is never
// blocked because it only ever writes to a plain file.
type OutputStreamer struct {
	ringSize int
	// onLine, if set, is invoked for every streamed line.
	onLine func(agentID, line string)

	mu    sync.Mutex
	rings map[string]*lineRing

	wg sync.WaitGroup
}

// NewOutputStreamer returns a streamer keeping up to ringSize lines per agent.
func NewOutputStreamer(ringSize int, onLine func(agentID, line string)) *OutputStreamer {
	if ringSize < 1 {
		ringSize = 100
	}
	return &OutputStreamer{
		ringSize: ringSize,
		onLine:   onLine,
		rings:    make(map[string]*lineRing),
	}
}

// Tail starts tailing the file at path for agentID until ctx is cancelled.
// The file may not exist yet when Tail is called.
func (s *OutputStreamer) Tail(ctx context.Context, agentID, path string) {
	s.mu.Lock()
	if _, ok := s.rings[agentID]; !ok {
		s.rings[agentID] = newLineRing(s.ringSize)
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tail(ctx, agentID, path)
	}()
}

// Lines returns the buffered output lines for agentID, oldest first.
func (s *OutputStreamer) Lines(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring, ok := s.rings[agentID]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

// Wait blocks until all tail goroutines have stopped. Call after cancelling
// their context.
func (s *OutputStreamer) Wait() {
	s.wg.Wait()
}

func (s *OutputStreamer) tail(ctx context.Context, agentID, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WarningLog.Printf("output streamer: fsnotify unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
		// Watch the directory: the file may not exist yet and watching the
		// parent also survives rename-based writers.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			log.WarningLog.Printf("output streamer: failed to watch %s: %v", filepath.Dir(path), err)
		}
	}

	var f *os.File
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	var reader *bufio.Reader
	var partial strings.Builder

	for {
		if f == nil {
			if file, err := os.Open(path); err == nil {
				f = file
				reader = bufio.NewReader(f)
			}
		}

		if reader != nil {
			s.drain(agentID, reader, &partial)
		}

		var events <-chan fsnotify.Event
		if watcher != nil {
			events = watcher.Events
		}

		select {
		case <-ctx.Done():
			// Final drain so lines written just before shutdown are kept.
			if reader != nil {
				s.drain(agentID, reader, &partial)
			}
			if partial.Len() > 0 {
				s.push(agentID, partial.String())
			}
			return
		case <-events:
		case <-time.After(streamFallbackInterval):
		}
	}
}

// drain reads everything currently available, splitting into lines. A trailing
// fragment without a newline is carried over in partial.
func (s *OutputStreamer) drain(agentID string, r *bufio.Reader, partial *strings.Builder) {
	for {
		chunk, err := r.ReadString('\n')
		if chunk != "" {
			if strings.HasSuffix(chunk, "\n") {
				partial.WriteString(strings.TrimRight(chunk, "\r\n"))
				s.push(agentID, partial.String())
				partial.Reset()
			} else {
				partial.WriteString(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *OutputStreamer) push(agentID, line string) {
	s.mu.Lock()
	ring, ok := s.rings[agentID]
	if !ok {
		ring = newLineRing(s.ringSize)
		s.rings[agentID] = ring
	}
	ring.append(line)
	s.mu.Unlock()

	if s.onLine != nil {
		s.onLine(agentID, line)
	}
}

// lineRing is a fixed-capacity line buffer that drops the oldest entry on
// overflow.
type lineRing struct {
	lines []string
	next  int
	full  bool
}

func newLineRing(size int) *lineRing {
	return &lineRing{lines: make([]string, size)}
}

func (r *lineRing) append(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the buffered lines, oldest first.
func (r *lineRing) snapshot() []string {
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}
