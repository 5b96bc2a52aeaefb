package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/provider"
)

// invocationLine is one JSONL record written per provider call, kept
// alongside the DB rows for offline inspection.
type invocationLine struct {
	Timestamp  time.Time `json:"timestamp"`
	TaskID     string    `json:"task_id"`
	Role       string    `json:"role"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Hung       bool      `json:"hung,omitempty"`
	StdoutTail string    `json:"stdout_tail,omitempty"`
	StderrTail string    `json:"stderr_tail,omitempty"`
}

// appendInvocationLog appends one JSONL line to
// <project>/.steroids/invocations/<task>.log.
func appendInvocationLog(projectPath, taskID, role, providerName, model string, res *provider.Result) error {
	dir := db.InvocationLogDir(projectPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create invocation log dir: %w", err)
	}

	line := invocationLine{
		Timestamp:  time.Now().UTC(),
		TaskID:     taskID,
		Role:       role,
		Provider:   providerName,
		Model:      model,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
		TimedOut:   res.TimedOut,
		Hung:       res.Hung,
		StdoutTail: res.StdoutTail,
		StderrTail: res.StderrTail,
	}
	body, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal invocation line: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, taskID+".log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open invocation log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("write invocation log: %w", err)
	}
	return nil
}
