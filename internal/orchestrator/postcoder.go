package orchestrator

import (
	"strings"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/provider"
)

// ActionKind discriminates the post-coder decision. The switch in the
// loop handles every case; there is no default passthrough.
type ActionKind string

const (
	ActionSubmit            ActionKind = "submit"
	ActionStageCommitSubmit ActionKind = "stage_commit_submit"
	ActionRetry             ActionKind = "retry"
	ActionError             ActionKind = "error"
)

// Action is the post-coder decision with its payload.
type Action struct {
	Kind   ActionKind
	Reason string

	// CommitSHA is the newest coder commit, set for submit.
	CommitSHA string
}

// CoderOutcome bundles everything the decision reads: the invocation
// result and the observed git state.
type CoderOutcome struct {
	Result       *provider.Result
	NewCommits   []string // newest first
	ChangedFiles []string
	Uncommitted  bool
}

// completionPhrases signal the coder believes it is done even though it
// left the tree dirty.
var completionPhrases = []string{
	"changes ready",
	"implementation complete",
	"finished",
}

// continuationPhrases signal the coder intends more work.
var continuationPhrases = []string{
	"continuing",
	"will continue",
	"to be continued",
}

// fatalPhrases on stderr mark an unrecoverable environment failure.
var fatalPhrases = []string{
	"fatal",
	"Permission denied",
}

func containsAny(s string, phrases []string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// DecidePostCoder classifies a finished coder invocation into exactly
// one action. When signals conflict the decision leans retry, which is
// recoverable, over error, which is not.
func DecidePostCoder(out CoderOutcome) Action {
	res := out.Result
	hasCommits := len(out.NewCommits) > 0
	hasChanges := out.Uncommitted || len(out.ChangedFiles) > 0
	failed := res.ExitCode != 0
	interrupted := res.TimedOut || res.Hung

	if containsAny(res.StderrTail, fatalPhrases) {
		return Action{Kind: ActionError, Reason: "fatal phrase in stderr"}
	}

	if failed {
		if interrupted {
			return Action{Kind: ActionError, Reason: "nonzero exit after timeout"}
		}
		if !hasCommits && !hasChanges {
			return Action{Kind: ActionError, Reason: "nonzero exit with no progress"}
		}
		// Failed but produced something: uncertain, keep going.
		return Action{Kind: ActionRetry, Reason: "nonzero exit with partial progress"}
	}

	if interrupted {
		if hasCommits || hasChanges {
			return Action{Kind: ActionRetry, Reason: "timed out with partial progress"}
		}
		return Action{Kind: ActionRetry, Reason: "timed out with no progress"}
	}

	if hasCommits {
		return Action{Kind: ActionSubmit, CommitSHA: out.NewCommits[0], Reason: "new commits present"}
	}

	if containsAny(res.StdoutTail, continuationPhrases) {
		return Action{Kind: ActionRetry, Reason: "coder signalled continuation"}
	}

	if out.Uncommitted && containsAny(res.StdoutTail, completionPhrases) {
		return Action{Kind: ActionStageCommitSubmit, Reason: "completion signal with uncommitted changes"}
	}

	if !hasChanges {
		return Action{Kind: ActionRetry, Reason: "clean exit with no commits and no changes"}
	}

	// Dirty tree, no completion signal: let the coder keep working.
	return Action{Kind: ActionRetry, Reason: "uncommitted changes without completion signal"}
}
