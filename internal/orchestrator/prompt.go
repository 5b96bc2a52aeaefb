package orchestrator

import (
	"fmt"
	"strings"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

// coderPrompt builds the instruction for a coder invocation. Prior
// reviewer notes are included so rejected work carries its feedback
// forward.
func coderPrompt(t *db.Task, priorNotes []string, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the coder for task %s: %s\n\n", t.ID, t.Title)
	b.WriteString("Implement the task in this repository. Commit your work when done ")
	b.WriteString("and state clearly that the implementation is complete.\n")

	if t.RejectionCount > 0 {
		fmt.Fprintf(&b, "\nThis task has been rejected %d time(s) in review.\n", t.RejectionCount)
	}
	if len(priorNotes) > 0 {
		b.WriteString("\nReviewer feedback to address:\n")
		for _, n := range priorNotes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	if attempt > 0 {
		fmt.Fprintf(&b, "\nThis is retry %d of the current work cycle; previous attempts produced no reviewable result.\n", attempt)
	}
	return b.String()
}

// reviewerPrompt builds the instruction for a reviewer invocation.
func reviewerPrompt(t *db.Task, commitSHA string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the reviewer for task %s: %s\n\n", t.ID, t.Title)
	if commitSHA != "" {
		fmt.Fprintf(&b, "Review the work submitted at commit %s.\n", commitSHA)
	} else {
		b.WriteString("Review the most recent commits for this task.\n")
	}
	b.WriteString("\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{"decision": "approve" | "reject" | "dispute", "notes": "<reasoning>", "commit_sha": "<reviewed commit>"}` + "\n")
	fmt.Fprintf(&b, "\nThe task has %d prior rejection(s). Use dispute only when further review rounds cannot resolve the disagreement.\n", t.RejectionCount)
	return b.String()
}

// commitMessage is the generated message used when the orchestrator
// commits on the coder's behalf.
func commitMessage(t *db.Task) string {
	return fmt.Sprintf("%s: %s", t.ID, t.Title)
}
