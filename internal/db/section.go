package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDependencyCycle is returned when a section dependency edge would
// create a cycle.
var ErrDependencyCycle = errors.New("section dependency would create a cycle")

// ErrSectionNotFound is returned when a section does not exist.
var ErrSectionNotFound = errors.New("section not found")

// Named priority presets. Lower is more urgent.
const (
	PriorityHigh   = 10
	PriorityMedium = 50
	PriorityLow    = 90
)

// Section is a named group of tasks with ordering, priority, and
// dependencies on other sections.
type Section struct {
	ID        string
	Name      string
	Position  int
	Priority  int
	Skipped   bool
	CreatedAt time.Time
}

// SaveSection creates or updates a section.
func (p *ProjectDB) SaveSection(s *Section) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	skipped := 0
	if s.Skipped {
		skipped = 1
	}
	_, err := p.Exec(`
		INSERT INTO sections (id, name, position, priority, skipped, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			position = excluded.position,
			priority = excluded.priority,
			skipped = excluded.skipped
	`, s.ID, s.Name, s.Position, s.Priority, skipped, FormatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("save section: %w", err)
	}
	return nil
}

// GetSection retrieves a section by ID.
func (p *ProjectDB) GetSection(id string) (*Section, error) {
	row := p.QueryRow(`
		SELECT id, name, position, priority, skipped, created_at
		FROM sections WHERE id = ?
	`, id)
	return scanSection(row)
}

// ListSections returns all sections ordered by (priority, position).
func (p *ProjectDB) ListSections() ([]*Section, error) {
	rows, err := p.Query(`
		SELECT id, name, position, priority, skipped, created_at
		FROM sections ORDER BY priority, position
	`)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sections []*Section
	for rows.Next() {
		s, err := scanSectionRows(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// AddSectionDependency records that section depends on dependsOn.
// Rejects self-dependencies and any edge whose addition would create a
// cycle, determined by forward reachability from dependsOn back to section.
func (p *ProjectDB) AddSectionDependency(sectionID, dependsOnID string) error {
	if sectionID == dependsOnID {
		return fmt.Errorf("section %s: %w", sectionID, ErrDependencyCycle)
	}

	for _, id := range []string{sectionID, dependsOnID} {
		var exists int
		if err := p.QueryRow("SELECT COUNT(*) FROM sections WHERE id = ?", id).Scan(&exists); err != nil {
			return fmt.Errorf("check section: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("section %s: %w", id, ErrSectionNotFound)
		}
	}

	reachable, err := p.reachableFrom(dependsOnID)
	if err != nil {
		return err
	}
	if reachable[sectionID] {
		return fmt.Errorf("%s -> %s: %w", sectionID, dependsOnID, ErrDependencyCycle)
	}

	_, err = p.Exec(`
		INSERT INTO section_dependencies (section_id, depends_on_section_id)
		VALUES (?, ?)
		ON CONFLICT(section_id, depends_on_section_id) DO NOTHING
	`, sectionID, dependsOnID)
	if err != nil {
		return fmt.Errorf("add section dependency: %w", err)
	}
	return nil
}

// SectionDependencies returns the dependency section IDs for a section.
func (p *ProjectDB) SectionDependencies(sectionID string) ([]string, error) {
	rows, err := p.Query(`
		SELECT depends_on_section_id FROM section_dependencies WHERE section_id = ?
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		deps = append(deps, id)
	}
	return deps, rows.Err()
}

// reachableFrom walks dependency edges forward from start and returns every
// section reachable from it.
func (p *ProjectDB) reachableFrom(start string) (map[string]bool, error) {
	edges := make(map[string][]string)
	rows, err := p.Query("SELECT section_id, depends_on_section_id FROM section_dependencies")
	if err != nil {
		return nil, fmt.Errorf("load dependency graph: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, edges[n]...)
	}
	return seen, nil
}

func scanSection(row *sql.Row) (*Section, error) {
	var s Section
	var skipped int
	var createdAt string
	err := row.Scan(&s.ID, &s.Name, &s.Position, &s.Priority, &skipped, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrSectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan section: %w", err)
	}
	s.Skipped = skipped != 0
	s.CreatedAt = ParseTime(createdAt)
	return &s, nil
}

func scanSectionRows(rows *sql.Rows) (*Section, error) {
	var s Section
	var skipped int
	var createdAt string
	if err := rows.Scan(&s.ID, &s.Name, &s.Position, &s.Priority, &skipped, &createdAt); err != nil {
		return nil, fmt.Errorf("scan section: %w", err)
	}
	s.Skipped = skipped != 0
	s.CreatedAt = ParseTime(createdAt)
	return &s, nil
}
