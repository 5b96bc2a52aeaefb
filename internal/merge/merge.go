// Package merge applies workstream commits onto the main branch as a
// resumable cherry-pick session. Progress is keyed per (session,
// workstream, position) so an interrupted session never reapplies a
// commit.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/gitstate"
)

// Applier replays one workstream's commits for a session.
type Applier struct {
	project *db.ProjectDB
	repo    *gitstate.Repo
	logger  *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

// NewApplier creates an applier over the project store and repo.
func NewApplier(project *db.ProjectDB, repo *gitstate.Repo, opts ...Option) *Applier {
	a := &Applier{
		project: project,
		repo:    repo,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result summarizes one Apply pass.
type Result struct {
	Applied  int
	Skipped  int // already recorded in a prior pass
	Conflict string
}

// Apply cherry-picks commits in order for the given session and
// workstream. Positions already recorded are skipped, so a resumed
// session continues where the previous one stopped. The first conflict
// ends the pass: the position is recorded as conflicted and returned
// for the operator to resolve.
func (a *Applier) Apply(ctx context.Context, sessionID, workstreamID string, commits []string) (*Result, error) {
	prior, err := a.project.MergeSessionProgress(sessionID)
	if err != nil {
		return nil, err
	}
	done := make(map[int]string, len(prior))
	for _, p := range prior {
		if p.WorkstreamID == workstreamID {
			done[p.Position] = p.Status
		}
	}

	res := &Result{}
	for pos, sha := range commits {
		switch done[pos] {
		case db.MergeApplied, db.MergeSkipped:
			res.Skipped++
			continue
		}

		err := a.repo.CherryPick(ctx, sha)
		status := db.MergeApplied
		if err != nil {
			if !errors.Is(err, gitstate.ErrCherryPickConflict) {
				return res, err
			}
			status = db.MergeConflict
		}

		if recErr := a.project.RecordMergeProgress(&db.MergeProgress{
			SessionID:    sessionID,
			WorkstreamID: workstreamID,
			Position:     pos,
			CommitSHA:    sha,
			Status:       status,
		}); recErr != nil {
			return res, fmt.Errorf("record merge progress: %w", recErr)
		}

		if status == db.MergeConflict {
			a.logger.Warn("cherry-pick conflict, session paused",
				"session", sessionID, "workstream", workstreamID,
				"position", pos, "commit", sha)
			res.Conflict = sha
			return res, err
		}
		a.logger.Debug("commit applied",
			"session", sessionID, "workstream", workstreamID,
			"position", pos, "commit", sha)
		res.Applied++
	}
	return res, nil
}
