package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/provider"
)

func res(exit int) *provider.Result {
	return &provider.Result{ExitCode: exit, Duration: time.Second}
}

func TestDecideSubmitOnNewCommits(t *testing.T) {
	action := DecidePostCoder(CoderOutcome{
		Result:     res(0),
		NewCommits: []string{"abc123", "def456"},
	})
	assert.Equal(t, ActionSubmit, action.Kind)
	assert.Equal(t, "abc123", action.CommitSHA)
}

func TestDecideStageCommitSubmit(t *testing.T) {
	r := res(0)
	r.StdoutTail = "All done. Implementation complete."
	action := DecidePostCoder(CoderOutcome{
		Result:       r,
		Uncommitted:  true,
		ChangedFiles: []string{"main.go"},
	})
	assert.Equal(t, ActionStageCommitSubmit, action.Kind)
}

func TestDecideRetryOnCleanNoProgress(t *testing.T) {
	action := DecidePostCoder(CoderOutcome{Result: res(0)})
	assert.Equal(t, ActionRetry, action.Kind)
}

func TestDecideRetryOnContinuationSignal(t *testing.T) {
	r := res(0)
	r.StdoutTail = "Partway through, continuing in the next session."
	action := DecidePostCoder(CoderOutcome{
		Result:       r,
		Uncommitted:  true,
		ChangedFiles: []string{"a.go"},
	})
	assert.Equal(t, ActionRetry, action.Kind)
}

func TestDecideRetryOnDirtyTreeWithoutCompletion(t *testing.T) {
	action := DecidePostCoder(CoderOutcome{
		Result:       res(0),
		Uncommitted:  true,
		ChangedFiles: []string{"a.go"},
	})
	assert.Equal(t, ActionRetry, action.Kind)
}

func TestDecideErrorOnFailureWithoutProgress(t *testing.T) {
	action := DecidePostCoder(CoderOutcome{Result: res(1)})
	assert.Equal(t, ActionError, action.Kind)
}

func TestDecideErrorOnTimeoutWithFailure(t *testing.T) {
	r := res(1)
	r.TimedOut = true
	action := DecidePostCoder(CoderOutcome{
		Result:     r,
		NewCommits: []string{"abc"},
	})
	assert.Equal(t, ActionError, action.Kind)
}

func TestDecideErrorOnFatalStderr(t *testing.T) {
	for _, phrase := range []string{"fatal: not a git repository", "open /etc/x: Permission denied"} {
		r := res(0)
		r.StderrTail = phrase
		action := DecidePostCoder(CoderOutcome{
			Result:     r,
			NewCommits: []string{"abc"},
		})
		assert.Equal(t, ActionError, action.Kind, "stderr %q", phrase)
	}
}

func TestDecideRetryOnTimeoutWithPartialProgress(t *testing.T) {
	r := res(0)
	r.TimedOut = true
	action := DecidePostCoder(CoderOutcome{
		Result:       r,
		ChangedFiles: []string{"a.go"},
		Uncommitted:  true,
	})
	assert.Equal(t, ActionRetry, action.Kind)
}

func TestDecideRetryOnFailureWithPartialProgress(t *testing.T) {
	// Conflicting signals lean retry over error.
	action := DecidePostCoder(CoderOutcome{
		Result:       res(2),
		ChangedFiles: []string{"a.go"},
		Uncommitted:  true,
	})
	assert.Equal(t, ActionRetry, action.Kind)
}

func TestDecideRetryOnHangWithNoProgress(t *testing.T) {
	r := res(0)
	r.Hung = true
	action := DecidePostCoder(CoderOutcome{Result: r})
	assert.Equal(t, ActionRetry, action.Kind)
}
