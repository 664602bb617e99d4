// Package speech provides text-to-speech synthesis for interview questions.
//
// Synthesis is strictly degradable: a failed, timed-out or interrupted
// synthesis yields no audio and the turn proceeds with text only.
package speech

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Synthesizer converts text to audio. Implementations must be safe for
// concurrent use across sessions.
type Synthesizer interface {
	// Synthesize returns base64-encoded MP3 audio for text. Failures,
	// timeouts and interrupts are returned as errors; callers degrade to
	// no audio rather than failing the turn.
	Synthesize(ctx context.Context, text string, sessionID uuid.UUID) (string, error)

	// Interrupt marks the session's in-flight synthesis for cancellation.
	// The flag is checked between receiving synthesized audio and
	// returning it.
	Interrupt(sessionID uuid.UUID)
}

// Interrupts is a per-session interrupt flag registry.
// The flag is cleared when a new synthesis for the session begins.
type Interrupts struct {
	mu    sync.Mutex
	flags map[uuid.UUID]bool
}

// NewInterrupts creates an empty interrupt registry.
func NewInterrupts() *Interrupts {
	return &Interrupts{flags: make(map[uuid.UUID]bool)}
}

// Set marks the session for interruption.
func (i *Interrupts) Set(sessionID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.flags[sessionID] = true
}

// Clear resets the session's interrupt flag.
func (i *Interrupts) Clear(sessionID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.flags, sessionID)
}

// IsSet reports whether the session has been marked for interruption.
func (i *Interrupts) IsSet(sessionID uuid.UUID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flags[sessionID]
}

// Noop is a Synthesizer that produces no audio. Used when no TTS provider
// is configured.
type Noop struct{}

// Synthesize returns no audio.
func (Noop) Synthesize(context.Context, string, uuid.UUID) (string, error) {
	return "", nil
}

// Interrupt is a no-op.
func (Noop) Interrupt(uuid.UUID) {}
