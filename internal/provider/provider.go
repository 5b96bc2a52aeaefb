// Package provider abstracts AI provider invocation behind a single
// capability: send a prompt, get back a completed invocation record.
package provider

import (
	"context"
	"strings"
	"time"
)

// Roles a provider invocation can play in the loop.
const (
	RoleCoder    = "coder"
	RoleReviewer = "reviewer"
)

// DefaultSilenceTimeout is how long a subprocess may produce no output
// before the hang detector kills it.
const DefaultSilenceTimeout = 15 * time.Minute

// TailSize is how much trailing stdout/stderr is preserved for the
// post-coder decision.
const TailSize = 2 * 1024

// Request describes one provider invocation.
type Request struct {
	Prompt  string
	Model   string
	Role    string
	Workdir string
	Timeout time.Duration
}

// Result is the completed invocation record.
type Result struct {
	ExitCode        int
	Duration        time.Duration
	TimedOut        bool
	Hung            bool // killed by the silence watcher
	StdoutTail      string
	StderrTail      string
	CreditExhausted bool
}

// Success reports whether the invocation completed normally.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Hung
}

// Provider invokes an AI model and returns the completed record.
// Implementations never return an error for subprocess failure; those are
// encoded in the Result so the post-coder decision can classify them.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// creditPhrases are output markers of account rate/balance exhaustion.
var creditPhrases = []string{
	"credit balance is too low",
	"usage limit reached",
	"rate limit exceeded",
	"insufficient credits",
}

// detectCreditExhaustion scans output tails for exhaustion markers.
func detectCreditExhaustion(stdout, stderr string) bool {
	combined := strings.ToLower(stdout + "\n" + stderr)
	for _, phrase := range creditPhrases {
		if strings.Contains(combined, phrase) {
			return true
		}
	}
	return false
}
