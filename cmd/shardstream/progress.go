package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/stage"
)

// progress prints one dot per finished block while a pass streams. It
// stays silent unless w is a terminal.
type progress struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	dots    int
}

func newProgress(f *os.File) *progress {
	return &progress{w: f, enabled: term.IsTerminal(int(f.Fd()))}
}

func (p *progress) hooks() inference.Hooks {
	if !p.enabled {
		return inference.Hooks{}
	}
	return inference.Hooks{
		OnStageReleased: func(id stage.ID) {
			p.mu.Lock()
			defer p.mu.Unlock()
			switch id.Kind {
			case stage.KindBlock:
				_, _ = fmt.Fprint(p.w, ".")
				p.dots++
			case stage.KindHead:
				p.clear()
			}
		},
	}
}

// clear erases the dots of the finished pass, leaving earlier output on the
// line intact.
func (p *progress) clear() {
	if p.dots == 0 {
		return
	}
	_, _ = fmt.Fprint(p.w, strings.Repeat("\b", p.dots)+strings.Repeat(" ", p.dots)+strings.Repeat("\b", p.dots))
	p.dots = 0
}
