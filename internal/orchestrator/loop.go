// Package orchestrator drives the coder/reviewer loop: pick an eligible
// task, lease it, invoke the coder, classify the outcome, run review,
// and apply the terminal transition atomically.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/config"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/errors"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/events"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/gitstate"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/hooks"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/lock"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/provider"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/runner"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/task"
)

// errStopped unwinds the loop when shouldStop turns true mid-task.
var errStopped = stderrors.New("orchestrator stopped")

// Deps are the collaborators the loop requires.
type Deps struct {
	Project     *db.ProjectDB
	Global      *db.GlobalDB // nil tolerated: activity logging skipped
	Locks       *lock.Manager
	Registry    *runner.Registry
	Provider    provider.Provider
	Repo        *gitstate.Repo
	Config      *config.Config
	ProjectPath string
	ProjectName string
}

// Orchestrator runs the sequential task loop for one runner.
type Orchestrator struct {
	Deps

	dispatcher  *hooks.Dispatcher
	publisher   events.Publisher
	logger      *slog.Logger
	shouldStop  func() bool
	onHeartbeat func()
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDispatcher wires the outbound hook dispatcher.
func WithDispatcher(d *hooks.Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithPublisher wires the in-process event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithShouldStop installs the graceful-stop predicate, checked between
// iterations and after every suspension.
func WithShouldStop(fn func() bool) Option {
	return func(o *Orchestrator) { o.shouldStop = fn }
}

// WithHeartbeat installs the liveness callback used during credit-pause.
func WithHeartbeat(fn func()) Option {
	return func(o *Orchestrator) { o.onHeartbeat = fn }
}

// New creates an orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Deps:        deps,
		publisher:   events.NewNopPublisher(),
		logger:      slog.Default(),
		shouldStop:  func() bool { return false },
		onHeartbeat: func() {},
		sleep:       sleepCtx,
	}
	if o.Config == nil {
		o.Config = config.Default()
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes loop iterations until no work is eligible, shouldStop
// returns true, or a fatal error occurs.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if o.shouldStop() || ctx.Err() != nil {
			return nil
		}

		t, err := o.pickNext(ctx)
		if err != nil {
			return err
		}
		if t == nil {
			o.logger.Info("no eligible tasks, loop done")
			return nil
		}

		if err := o.runTask(ctx, t); err != nil {
			if stderrors.Is(err, errStopped) || stderrors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// pickNext returns the first eligible pending task with its section and
// task leases held, or nil when nothing can be claimed.
func (o *Orchestrator) pickNext(ctx context.Context) (*db.Task, error) {
	candidates, err := o.Project.PendingCandidates()
	if err != nil {
		return nil, err
	}

	for _, t := range candidates {
		eligible, err := o.dependenciesSatisfied(t)
		if err != nil {
			return nil, err
		}
		if !eligible {
			continue
		}

		if open, err := o.Project.HasOpenDispute(t.ID); err != nil {
			return nil, err
		} else if open {
			continue
		}

		sectionOutcome := lock.Outcome("")
		if t.SectionID != "" {
			sectionOutcome, err = o.Locks.AcquireSection(ctx, t.SectionID)
			if err != nil {
				if errors.HasCode(err, errors.CodeSectionLocked) {
					continue
				}
				return nil, err
			}
		}

		if _, err := o.Locks.AcquireTask(ctx, t.ID); err != nil {
			if errors.HasCode(err, errors.CodeTaskLocked) {
				// Only drop a section lease this pass created; an
				// already-owned lease belongs to ongoing section work.
				if t.SectionID != "" && sectionOutcome != lock.OutcomeAlreadyOwned {
					_ = o.Locks.Release(ctx, lock.KindSection, t.SectionID)
				}
				continue
			}
			return nil, err
		}

		return t, nil
	}
	return nil, nil
}

// dependenciesSatisfied reports whether every dependency section of the
// task's section is fully terminal. Sectionless tasks are always ready.
func (o *Orchestrator) dependenciesSatisfied(t *db.Task) (bool, error) {
	if t.SectionID == "" {
		return true, nil
	}
	deps, err := o.Project.SectionDependencies(t.SectionID)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		done, err := o.Project.SectionFullyCompleted(dep)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

// runTask drives one task from in_progress to a terminal state (or back
// to pending work via rejection rounds). Both leases are held on entry.
func (o *Orchestrator) runTask(ctx context.Context, t *db.Task) error {
	o.logger.Info("task selected", "task", t.ID, "section", t.SectionID)

	if err := o.transition(ctx, t, task.StatusPending, task.StatusInProgress, db.Transition{
		Actor:     task.ActorOrchestrator,
		ActorType: task.ActorOrchestrator,
		Notes:     "selected by runner",
	}); err != nil {
		return err
	}
	if err := o.Registry.ClaimTask(t.ID, t.SectionID); err != nil {
		o.logger.Warn("claim task in registry failed", "task", t.ID, "error", err)
	}
	defer func() {
		if err := o.Registry.ReleaseTask(); err != nil {
			o.logger.Warn("release task in registry failed", "task", t.ID, "error", err)
		}
	}()

	var priorNotes []string
	retries := 0
	reviewerRetries := 0

	for {
		if o.shouldStop() {
			o.releaseLeases(ctx, t)
			return errStopped
		}

		baseRef, err := o.Repo.Head(ctx)
		if err != nil {
			return fmt.Errorf("read HEAD: %w", err)
		}

		res, err := o.invoke(ctx, t, provider.RoleCoder, coderPrompt(t, priorNotes, retries))
		if err != nil {
			return err
		}
		if res.CreditExhausted {
			if err := o.creditPause(ctx, provider.RoleCoder); err != nil {
				return err
			}
			continue
		}

		outcome, err := o.observeGitState(ctx, baseRef, res)
		if err != nil {
			return err
		}
		action := DecidePostCoder(outcome)
		o.logger.Info("post-coder decision",
			"task", t.ID, "action", string(action.Kind), "reason", action.Reason)

		if action.Kind == ActionRetry && retries >= o.Config.Runner.MaxRetries {
			action = Action{Kind: ActionError, Reason: fmt.Sprintf("retry cap reached after %d attempts", retries)}
		}

		switch action.Kind {
		case ActionRetry:
			retries++
			continue

		case ActionError:
			return o.failTask(ctx, t, action.Reason, res)

		case ActionStageCommitSubmit:
			sha, err := o.Repo.StageAndCommit(ctx, commitMessage(t))
			if err != nil {
				return fmt.Errorf("stage and commit for %s: %w", t.ID, err)
			}
			action.CommitSHA = sha
			fallthrough

		case ActionSubmit:
			if err := o.transition(ctx, t, task.StatusInProgress, task.StatusReview, db.Transition{
				Actor:           task.ActorCoder,
				ActorType:       task.ActorCoder,
				Model:           o.Config.Provider.CoderModel,
				CommitSHA:       action.CommitSHA,
				Notes:           action.Reason,
				DurationSeconds: res.Duration.Seconds(),
			}); err != nil {
				return err
			}
		}

		decision, err := o.review(ctx, t, action.CommitSHA, &reviewerRetries)
		if err != nil {
			return err
		}

		switch decision.Verdict {
		case VerdictApprove:
			return o.completeTask(ctx, t, decision)

		case VerdictReject:
			if t.RejectionCount+1 >= o.Config.Disputes.RejectionThreshold {
				return o.escalateDispute(ctx, t, task.ActorReviewer, decision.Notes)
			}
			if err := o.transition(ctx, t, task.StatusReview, task.StatusInProgress, db.Transition{
				Actor:         task.ActorReviewer,
				ActorType:     task.ActorReviewer,
				Model:         o.Config.Provider.ReviewerModel,
				Notes:         decision.Notes,
				CommitSHA:     decision.CommitSHA,
				BumpRejection: true,
			}); err != nil {
				return err
			}
			t.RejectionCount++
			if decision.Notes != "" {
				priorNotes = append(priorNotes, decision.Notes)
			}
			retries = 0
			o.logger.Info("task rejected", "task", t.ID, "rejections", t.RejectionCount)
			continue

		case VerdictDispute:
			return o.escalateDispute(ctx, t, task.ActorReviewer, decision.Notes)

		default:
			// Reviewer retries exhausted inside review(); leave the task
			// in review for the stuck-task detector and back off.
			o.releaseLeases(ctx, t)
			return fmt.Errorf("reviewer produced no usable decision for %s", t.ID)
		}
	}
}

// review invokes the reviewer until it yields a usable decision or the
// retry budget runs out; credit exhaustion pauses rather than counting.
func (o *Orchestrator) review(ctx context.Context, t *db.Task, commitSHA string, reviewerRetries *int) (ReviewDecision, error) {
	for {
		if open, err := o.Project.HasOpenDispute(t.ID); err != nil {
			return ReviewDecision{}, err
		} else if open {
			// An open dispute blocks further review.
			return ReviewDecision{Verdict: VerdictError, Notes: "open dispute"}, nil
		}

		res, err := o.invoke(ctx, t, provider.RoleReviewer, reviewerPrompt(t, commitSHA))
		if err != nil {
			return ReviewDecision{}, err
		}
		if res.CreditExhausted {
			if err := o.creditPause(ctx, provider.RoleReviewer); err != nil {
				return ReviewDecision{}, err
			}
			continue
		}

		decision := ParseReviewerDecision(res.StdoutTail)
		if decision.Verdict != VerdictError {
			return decision, nil
		}

		*reviewerRetries++
		o.logger.Warn("reviewer decision unusable",
			"task", t.ID, "attempt", *reviewerRetries, "notes", decision.Notes)
		if *reviewerRetries >= o.Config.Runner.MaxRetries {
			return decision, nil
		}
	}
}

// invoke calls the provider for one role and persists the invocation
// record (DB row plus JSONL line).
func (o *Orchestrator) invoke(ctx context.Context, t *db.Task, role, prompt string) (*provider.Result, error) {
	model := o.Config.Provider.CoderModel
	if role == provider.RoleReviewer {
		model = o.Config.Provider.ReviewerModel
	}

	res, err := o.Provider.Invoke(ctx, provider.Request{
		Prompt:  prompt,
		Model:   model,
		Role:    role,
		Workdir: o.ProjectPath,
		Timeout: o.Config.Provider.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s for %s: %w", role, t.ID, err)
	}

	if err := o.Project.RecordInvocation(&db.Invocation{
		TaskID:          t.ID,
		Role:            role,
		Provider:        o.Provider.Name(),
		Model:           model,
		ExitCode:        res.ExitCode,
		DurationMS:      res.Duration.Milliseconds(),
		Success:         res.Success(),
		TimedOut:        res.TimedOut,
		RejectionNumber: t.RejectionCount,
	}); err != nil {
		return nil, err
	}
	if err := appendInvocationLog(o.ProjectPath, t.ID, role, o.Provider.Name(), model, res); err != nil {
		o.logger.Warn("invocation log write failed", "task", t.ID, "error", err)
	}

	o.publisher.Publish(events.NewEvent(events.EventInvocation, t.ID, events.InvocationData{
		Role:            role,
		Model:           model,
		ExitCode:        res.ExitCode,
		DurationSeconds: res.Duration.Seconds(),
		TimedOut:        res.TimedOut,
		Hung:            res.Hung,
	}))
	return res, nil
}

// observeGitState reads what the coder left behind.
func (o *Orchestrator) observeGitState(ctx context.Context, baseRef string, res *provider.Result) (CoderOutcome, error) {
	commits, err := o.Repo.CommitsSince(ctx, baseRef)
	if err != nil {
		return CoderOutcome{}, err
	}
	changed, err := o.Repo.ChangedFiles(ctx)
	if err != nil {
		return CoderOutcome{}, err
	}
	dirty, err := o.Repo.HasUncommittedChanges(ctx)
	if err != nil {
		return CoderOutcome{}, err
	}
	return CoderOutcome{
		Result:       res,
		NewCommits:   commits,
		ChangedFiles: changed,
		Uncommitted:  dirty,
	}, nil
}

// transition applies one status change and publishes it.
func (o *Orchestrator) transition(ctx context.Context, t *db.Task, from, to task.Status, tr db.Transition) error {
	if err := task.ValidateTransition(from, to); err != nil {
		return err
	}
	tr.TaskID = t.ID
	tr.From = string(from)
	tr.To = string(to)
	if err := o.Project.ApplyTransition(ctx, tr); err != nil {
		return err
	}
	t.Status = string(to)
	o.publisher.Publish(events.NewEvent(events.EventTransition, t.ID, events.TransitionData{
		From:      string(from),
		To:        string(to),
		Actor:     tr.Actor,
		ActorType: tr.ActorType,
		CommitSHA: tr.CommitSHA,
		Notes:     tr.Notes,
	}))
	return nil
}

// terminal applies a terminal transition atomically with both lease
// releases, then records cross-project activity.
func (o *Orchestrator) terminal(ctx context.Context, t *db.Task, from, to task.Status, tr db.Transition) error {
	tr.ReleaseTaskLock = true
	tr.ReleaseSectionLock = t.SectionID
	tr.RunnerID = o.Locks.RunnerID()
	if err := o.transition(ctx, t, from, to, tr); err != nil {
		return err
	}

	if o.Global != nil {
		sectionName := ""
		if t.SectionID != "" {
			if s, err := o.Project.GetSection(t.SectionID); err == nil {
				sectionName = s.Name
			}
		}
		if err := o.Global.LogActivity(&db.Activity{
			ProjectPath: o.ProjectPath,
			TaskID:      t.ID,
			TaskTitle:   t.Title,
			FinalStatus: string(to),
			SectionName: sectionName,
			Model:       tr.Model,
		}); err != nil {
			o.logger.Warn("activity log write failed", "task", t.ID, "error", err)
		}
	}
	return nil
}

// completeTask applies the approve path.
func (o *Orchestrator) completeTask(ctx context.Context, t *db.Task, decision ReviewDecision) error {
	if err := o.terminal(ctx, t, task.StatusReview, task.StatusCompleted, db.Transition{
		Actor:     task.ActorReviewer,
		ActorType: task.ActorReviewer,
		Model:     o.Config.Provider.ReviewerModel,
		Notes:     decision.Notes,
		CommitSHA: decision.CommitSHA,
	}); err != nil {
		return err
	}
	o.logger.Info("task completed", "task", t.ID)
	o.emitTaskHook(hooks.EventTaskCompleted, t, "")
	o.emitSectionHookIfDone(t)
	return nil
}

// failTask applies the error action: task failed, leases released, and
// an incident when the provider was killed rather than finishing.
func (o *Orchestrator) failTask(ctx context.Context, t *db.Task, reason string, res *provider.Result) error {
	if err := o.terminal(ctx, t, task.StatusInProgress, task.StatusFailed, db.Transition{
		Actor:           task.ActorOrchestrator,
		ActorType:       task.ActorOrchestrator,
		Notes:           reason,
		DurationSeconds: res.Duration.Seconds(),
	}); err != nil {
		return err
	}

	if res.TimedOut || res.Hung {
		if _, err := o.Project.CreateIncident(&db.Incident{
			TaskID:      t.ID,
			RunnerID:    o.Locks.RunnerID(),
			FailureMode: db.FailureHanging,
			Details:     fmt.Sprintf(`{"reason":%q}`, reason),
		}); err != nil {
			o.logger.Warn("incident write failed", "task", t.ID, "error", err)
		}
	}

	o.logger.Warn("task failed", "task", t.ID, "reason", reason)
	o.emitTaskHook(hooks.EventTaskFailed, t, reason)
	return nil
}

// escalateDispute closes the task as completed-with-dispute instead of
// running another review round.
func (o *Orchestrator) escalateDispute(ctx context.Context, t *db.Task, createdBy, reason string) error {
	dispute := &db.Dispute{
		TaskID:           t.ID,
		Type:             "major",
		Reason:           reason,
		ReviewerPosition: reason,
		CreatedBy:        createdBy,
	}
	if err := o.Project.CreateDispute(dispute); err != nil {
		return err
	}

	notes := fmt.Sprintf("rejection threshold reached; escalation opened dispute %s, resolution required before further work",
		dispute.ID)
	if err := o.terminal(ctx, t, task.StatusReview, task.StatusCompleted, db.Transition{
		Actor:     task.ActorOrchestrator,
		ActorType: task.ActorOrchestrator,
		Notes:     notes,
	}); err != nil {
		return err
	}

	o.logger.Warn("dispute escalated", "task", t.ID, "dispute", dispute.ID, "rejections", t.RejectionCount)
	o.publisher.Publish(events.NewEvent(events.EventDispute, t.ID, dispute))
	if o.dispatcher != nil {
		env := o.dispatcher.NewEnvelope(hooks.EventDisputeCreated)
		env.Dispute = &hooks.DisputeInfo{
			ID:        dispute.ID,
			TaskID:    t.ID,
			Type:      dispute.Type,
			Status:    dispute.Status,
			Reason:    dispute.Reason,
			CreatedBy: dispute.CreatedBy,
		}
		env.Task = o.taskInfo(t)
		o.dispatcher.Emit(env)
	}
	o.emitTaskHook(hooks.EventTaskCompleted, t, "")
	return nil
}

// creditPause suspends invocations while keeping the runner live. The
// heartbeat callback fires on the normal cadence; every few beats a
// cheap probe invocation tests whether credit is restored.
func (o *Orchestrator) creditPause(ctx context.Context, role string) error {
	o.logger.Warn("provider credit exhausted, pausing loop", "role", role)
	if o.dispatcher != nil {
		env := o.dispatcher.NewEnvelope(hooks.EventCreditExhausted)
		env.Credit = &hooks.CreditInfo{Provider: o.Provider.Name(), Role: role}
		o.dispatcher.Emit(env)
	}

	const probeEvery = 4 // beats between probes
	beat := 0
	for {
		if o.shouldStop() {
			return errStopped
		}
		if err := o.sleep(ctx, o.Config.Runner.HeartbeatInterval); err != nil {
			return err
		}
		o.onHeartbeat()
		beat++
		if beat%probeEvery != 0 {
			continue
		}

		res, err := o.Provider.Invoke(ctx, provider.Request{
			Prompt:  "Reply with the single word OK.",
			Role:    role,
			Workdir: o.ProjectPath,
			Timeout: time.Minute,
		})
		if err != nil {
			continue
		}
		if !res.CreditExhausted {
			o.logger.Info("provider credit restored, resuming loop", "role", role)
			if o.dispatcher != nil {
				env := o.dispatcher.NewEnvelope(hooks.EventCreditResolved)
				env.Credit = &hooks.CreditInfo{Provider: o.Provider.Name(), Role: role}
				env.Resolution = "credit restored"
				o.dispatcher.Emit(env)
			}
			return nil
		}
	}
}

// releaseLeases drops both leases outside a transition (stop paths).
func (o *Orchestrator) releaseLeases(ctx context.Context, t *db.Task) {
	if err := o.Locks.Release(ctx, lock.KindTask, t.ID); err != nil {
		o.logger.Warn("task lease release failed", "task", t.ID, "error", err)
	}
	if t.SectionID != "" {
		if err := o.Locks.Release(ctx, lock.KindSection, t.SectionID); err != nil {
			o.logger.Warn("section lease release failed", "section", t.SectionID, "error", err)
		}
	}
}

func (o *Orchestrator) taskInfo(t *db.Task) *hooks.TaskInfo {
	info := &hooks.TaskInfo{
		ID:        t.ID,
		Title:     t.Title,
		Status:    t.Status,
		SectionID: t.SectionID,
	}
	if t.SectionID != "" {
		if s, err := o.Project.GetSection(t.SectionID); err == nil {
			info.Section = s.Name
		}
	}
	return info
}

func (o *Orchestrator) emitTaskHook(event string, t *db.Task, reason string) {
	if o.dispatcher == nil {
		return
	}
	env := o.dispatcher.NewEnvelope(event)
	env.Task = o.taskInfo(t)
	env.Reason = reason
	o.dispatcher.Emit(env)
}

func (o *Orchestrator) emitSectionHookIfDone(t *db.Task) {
	if o.dispatcher == nil || t.SectionID == "" {
		return
	}
	done, err := o.Project.SectionFullyCompleted(t.SectionID)
	if err != nil || !done {
		return
	}
	s, err := o.Project.GetSection(t.SectionID)
	if err != nil {
		return
	}
	tasks, err := o.Project.ListTasksInSection(t.SectionID)
	if err != nil {
		return
	}

	env := o.dispatcher.NewEnvelope(hooks.EventSectionCompleted)
	env.Section = &hooks.SectionInfo{ID: s.ID, Name: s.Name, TaskCount: len(tasks)}
	for _, st := range tasks {
		env.Tasks = append(env.Tasks, hooks.TaskInfo{
			ID: st.ID, Title: st.Title, Status: st.Status,
			Section: s.Name, SectionID: s.ID,
		})
	}
	o.dispatcher.Emit(env)
}
