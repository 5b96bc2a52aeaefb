package orchestrator

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Verdict discriminates the reviewer decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictDispute Verdict = "dispute"
	// VerdictError covers missing or unrecognized decisions. The raw
	// payload never propagates past this boundary.
	VerdictError Verdict = "error"
)

// ReviewDecision is the parsed reviewer output.
type ReviewDecision struct {
	Verdict   Verdict
	Notes     string
	CommitSHA string
}

// ParseReviewerDecision extracts the decision JSON from reviewer output.
// The reviewer is prompted to answer with a single JSON object, but
// chatty providers wrap it in prose; the parser scans for the last
// well-formed object carrying a decision field.
func ParseReviewerDecision(output string) ReviewDecision {
	payload := extractDecisionJSON(output)
	if payload == "" {
		return ReviewDecision{Verdict: VerdictError, Notes: "no decision JSON in reviewer output"}
	}

	decision := ReviewDecision{
		Notes:     gjson.Get(payload, "notes").String(),
		CommitSHA: gjson.Get(payload, "commit_sha").String(),
	}

	switch strings.ToLower(gjson.Get(payload, "decision").String()) {
	case "approve":
		decision.Verdict = VerdictApprove
	case "reject":
		decision.Verdict = VerdictReject
	case "dispute":
		decision.Verdict = VerdictDispute
	default:
		decision.Verdict = VerdictError
		if decision.Notes == "" {
			decision.Notes = "unknown reviewer decision"
		}
	}
	return decision
}

// extractDecisionJSON returns the last balanced JSON object in s that
// contains a decision field, or empty.
func extractDecisionJSON(s string) string {
	for end := len(s); end > 0; {
		last := strings.LastIndexByte(s[:end], '}')
		if last < 0 {
			return ""
		}
		depth := 0
		for i := last; i >= 0; i-- {
			switch s[i] {
			case '}':
				depth++
			case '{':
				depth--
			}
			if depth == 0 {
				candidate := s[i : last+1]
				if gjson.Valid(candidate) && gjson.Get(candidate, "decision").Exists() {
					return candidate
				}
				break
			}
		}
		end = last
	}
	return ""
}
