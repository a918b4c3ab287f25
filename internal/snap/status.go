package snap

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

type statusEvent struct {
	id    int
	state FilesystemState
}

// StatusBoard owns the status table for one run. Workers send transitions
// through Update; a single consumer goroutine applies them in arrival order
// and redraws the whole table, so concurrent workers never interleave output.
type StatusBoard struct {
	out    io.Writer
	inline bool // redraw in place with "\r" instead of one line per update
	labels []string
	order  []int
	states []FilesystemState
	events chan statusEvent
	done   chan struct{}
}

// NewStatusBoard creates a board for entries, all starting in StateWaiting.
// Entries must be numbered 0..len-1 (see ParseFilesystemEntries).
func NewStatusBoard(out io.Writer, entries []FilesystemEntry, inline bool) *StatusBoard {
	b := &StatusBoard{
		out:    out,
		inline: inline,
		labels: make([]string, len(entries)),
		order:  make([]int, len(entries)),
		states: make([]FilesystemState, len(entries)),
		events: make(chan statusEvent, len(entries)*3+1),
		done:   make(chan struct{}),
	}
	for _, e := range entries {
		b.labels[e.ID] = e.Label
	}
	for i := range b.order {
		b.order[i] = i
	}
	sort.SliceStable(b.order, func(i, j int) bool {
		return b.labels[b.order[i]] < b.labels[b.order[j]]
	})
	return b
}

// Start launches the consumer. Call Close exactly once when all producers
// are finished.
func (b *StatusBoard) Start() {
	go b.run()
}

// Update records a transition for entry.
func (b *StatusBoard) Update(entry FilesystemEntry, state FilesystemState) {
	b.events <- statusEvent{id: entry.ID, state: state}
}

// Close stops accepting updates and waits for the consumer to drain.
func (b *StatusBoard) Close() {
	close(b.events)
	<-b.done
}

func (b *StatusBoard) run() {
	defer close(b.done)
	rendered := false
	for ev := range b.events {
		b.states[ev.id] = ev.state
		b.render()
		rendered = true
	}
	if rendered && b.inline {
		fmt.Fprintln(b.out)
	}
}

func (b *StatusBoard) render() {
	var sb strings.Builder
	if b.inline {
		sb.WriteString("\r")
	}
	for i, id := range b.order {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s:%s", b.labels[id], b.states[id].Symbol())
	}
	if !b.inline {
		sb.WriteString("\n")
	}
	io.WriteString(b.out, sb.String())
}
