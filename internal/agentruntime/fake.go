package agentruntime

import (
	"context"
	"sync"
	"time"
)

// FakeRuntime is a scripted backend for deterministic tests, covering the
// concrete end-to-end scenarios in spec.md §8 (retry-then-succeed,
// always-fail, health-probe matrices) without a real model process.
type FakeRuntime struct {
	mu      sync.Mutex
	scripts []Script
	calls   int
	aborted bool
}

// Script is one scripted response: the messages to emit, in order, and an
// optional delay before emitting each (to test watchdog timeouts).
type Script struct {
	Messages []Message
	Delays   []time.Duration // parallel to Messages; zero-value means no delay
}

// NewFakeRuntime builds a runtime that replays scripts in order across
// successive Run/Resume calls; the last script repeats once exhausted.
func NewFakeRuntime(scripts ...Script) *FakeRuntime {
	return &FakeRuntime{scripts: scripts}
}

func (f *FakeRuntime) Run(ctx context.Context, prompt string, opts Options) (<-chan Message, error) {
	return f.play(ctx)
}

func (f *FakeRuntime) Resume(ctx context.Context, sessionID, prompt string, opts Options) (<-chan Message, error) {
	return f.play(ctx)
}

func (f *FakeRuntime) play(ctx context.Context) (<-chan Message, error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	f.calls++
	script := f.scripts[idx]
	f.mu.Unlock()

	out := make(chan Message, len(script.Messages)+1)
	go func() {
		defer close(out)
		for i, msg := range script.Messages {
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			var delay time.Duration
			if i < len(script.Delays) {
				delay = script.Delays[i]
			}
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- msg:
			}
		}
	}()
	return out, nil
}

// Abort marks the runtime aborted; FakeRuntime has no subprocess to kill.
func (f *FakeRuntime) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
}

// CallCount returns how many times Run/Resume have been invoked.
func (f *FakeRuntime) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TextScript is a convenience constructor for a script that just emits one
// text message then a summary, common in planner/reviewer tests.
func TextScript(text string) Script {
	return Script{Messages: []Message{
		{Kind: KindText, Content: text},
		{Kind: KindSummary, Content: "<promise>done</promise>"},
	}}
}
