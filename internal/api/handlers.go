package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/health"
)

// healthResponse is the /health payload.
type healthResponse struct {
	Status      health.Status  `json:"status"`
	Score       int            `json:"score"`
	Degraded    bool           `json:"degraded"`
	GeneratedAt time.Time      `json:"generated_at"`
	Counts      healthCounts   `json:"counts"`
	Signals     *health.Report `json:"signals,omitempty"`
}

type healthCounts struct {
	OrphanedTasks      int `json:"orphaned_tasks"`
	HangingInvocations int `json:"hanging_invocations"`
	ZombieRunners      int `json:"zombie_runners"`
	DeadRunners        int `json:"dead_runners"`
	DBInconsistencies  int `json:"db_inconsistencies"`
	ActiveIncidents    int `json:"active_incidents"`
}

// handleHealth runs the detector over a project and returns the report.
// The observer never writes incident rows; that is the runner's job.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	path, cerr := s.resolveProject(r.URL.Query().Get("project"))
	if cerr != nil {
		s.codedError(w, cerr)
		return
	}
	includeSignals, _ := strconv.ParseBool(r.URL.Query().Get("includeSignals"))

	project, release, err := s.openProject(path)
	if err != nil {
		s.jsonError(w, "project store unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer release()

	checker := health.NewChecker(project, s.global,
		health.WithConfig(s.healthCfg),
		health.WithClock(s.now),
		health.WithLogger(s.logger))
	snap, err := checker.Snapshot()
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	report := health.Detect(snap, s.healthCfg, s.now())

	resp := healthResponse{
		Status:      report.Summarize(),
		Score:       report.Score(),
		Degraded:    checker.Degraded(),
		GeneratedAt: report.GeneratedAt,
		Counts: healthCounts{
			OrphanedTasks:      len(report.OrphanedTasks),
			HangingInvocations: len(report.HangingInvocations),
			ZombieRunners:      len(report.ZombieRunners),
			DeadRunners:        len(report.DeadRunners),
			DBInconsistencies:  len(report.DBInconsistencies),
			ActiveIncidents:    report.ActiveIncidents,
		},
	}
	if includeSignals {
		resp.Signals = report
	}
	s.jsonResponse(w, resp)
}

// incidentRow is the /incidents payload element.
type incidentRow struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id,omitempty"`
	RunnerID    string     `json:"runner_id,omitempty"`
	FailureMode string     `json:"failure_mode"`
	DetectedAt  time.Time  `json:"detected_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// handleIncidents returns incident history for a project, newest first.
func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	path, cerr := s.resolveProject(r.URL.Query().Get("project"))
	if cerr != nil {
		s.codedError(w, cerr)
		return
	}

	filter := db.IncidentFilter{
		TaskID: r.URL.Query().Get("task"),
		Limit:  50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	filter.Unresolved, _ = strconv.ParseBool(r.URL.Query().Get("unresolved"))

	project, release, err := s.openProject(path)
	if err != nil {
		s.jsonError(w, "project store unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer release()

	incidents, err := project.ListIncidents(filter)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows := make([]incidentRow, 0, len(incidents))
	for _, inc := range incidents {
		rows = append(rows, incidentRow{
			ID:          inc.ID,
			TaskID:      inc.TaskID,
			RunnerID:    inc.RunnerID,
			FailureMode: inc.FailureMode,
			DetectedAt:  inc.DetectedAt,
			ResolvedAt:  inc.ResolvedAt,
			Resolution:  inc.Resolution,
			Details:     inc.Details,
		})
	}
	s.jsonResponse(w, map[string]any{"incidents": rows})
}

// runnerRow is the /runners payload element, with the project name
// joined in from the registry.
type runnerRow struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	PID           int       `json:"pid"`
	ProjectPath   string    `json:"project_path"`
	ProjectName   string    `json:"project_name,omitempty"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	SectionID     string    `json:"section_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	HeartbeatAt   time.Time `json:"heartbeat_at"`
}

func (s *Server) runnerRows(activeOnly bool) ([]runnerRow, error) {
	if s.global == nil {
		return []runnerRow{}, nil
	}
	runners, err := s.global.ListRunners()
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	if projects, err := s.global.ListProjects(false); err == nil {
		for _, p := range projects {
			names[p.Path] = p.Name
		}
	}

	rows := make([]runnerRow, 0, len(runners))
	for _, r := range runners {
		if activeOnly && r.CurrentTaskID == "" {
			continue
		}
		rows = append(rows, runnerRow{
			ID:            r.ID,
			Status:        r.Status,
			PID:           r.PID,
			ProjectPath:   r.ProjectPath,
			ProjectName:   names[r.ProjectPath],
			CurrentTaskID: r.CurrentTaskID,
			SectionID:     r.SectionID,
			StartedAt:     r.StartedAt,
			HeartbeatAt:   r.HeartbeatAt,
		})
	}
	return rows, nil
}

// handleRunners returns every registered runner.
func (s *Server) handleRunners(w http.ResponseWriter, r *http.Request) {
	rows, err := s.runnerRows(false)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"runners": rows})
}

// handleActiveTasks returns only runners currently holding a task.
func (s *Server) handleActiveTasks(w http.ResponseWriter, r *http.Request) {
	rows, err := s.runnerRows(true)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]any{"runners": rows})
}

// handleStorage returns the bytes breakdown for one project (path set)
// or summaries for every registered project. Details are cached for a
// minute, the summary list for five.
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw != "" {
		path, cerr := s.resolveProject(raw)
		if cerr != nil {
			s.codedError(w, cerr)
			return
		}
		if report, ok := s.detailCache.get(path); ok {
			s.jsonResponse(w, report)
			return
		}
		report, err := MeasureProject(path)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		report.MeasuredAt = s.now()
		s.detailCache.put(path, report)
		s.jsonResponse(w, report)
		return
	}

	if s.global == nil {
		s.jsonError(w, "global store unavailable", http.StatusServiceUnavailable)
		return
	}
	if summaries, ok := s.listCache.get("all"); ok {
		s.jsonResponse(w, map[string]any{"projects": summaries})
		return
	}

	projects, err := s.global.ListProjects(false)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	summaries := make([]StorageSummary, 0, len(projects))
	for _, p := range projects {
		report, err := MeasureProject(p.Path)
		if err != nil {
			s.logger.Warn("storage measurement failed", "project", p.Path, "error", err)
			continue
		}
		summaries = append(summaries, StorageSummary{
			Path:       p.Path,
			Name:       p.Name,
			TotalBytes: report.TotalBytes,
		})
	}
	s.listCache.put("all", summaries)
	s.jsonResponse(w, map[string]any{"projects": summaries})
}
