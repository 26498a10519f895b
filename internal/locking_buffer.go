package internal

import (
	"bytes"
	"strings"
	"sync"
)

// LockingBuffer is a bytes.Buffer that is safe to write from one goroutine
// while another inspects it. Used to capture command and sink output.
type LockingBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *LockingBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *LockingBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func (b *LockingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Len()
}

// Lines returns the non-empty lines written so far.
func (b *LockingBuffer) Lines() []string {
	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (b *LockingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.b.Reset()
}
