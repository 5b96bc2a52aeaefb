package db

import (
	"errors"
	"testing"
)

func seedSections(t *testing.T, p *ProjectDB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := p.SaveSection(&Section{ID: id, Name: "section-" + id}); err != nil {
			t.Fatalf("save section %s: %v", id, err)
		}
	}
}

func TestAddSectionDependencyRejectsSelfEdge(t *testing.T) {
	p := NewTestProjectDB(t)
	seedSections(t, p, "A")

	err := p.AddSectionDependency("A", "A")
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("self edge: got %v, want ErrDependencyCycle", err)
	}
}

func TestAddSectionDependencyRejectsDirectCycle(t *testing.T) {
	p := NewTestProjectDB(t)
	seedSections(t, p, "A", "B")

	if err := p.AddSectionDependency("A", "B"); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	err := p.AddSectionDependency("B", "A")
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("B->A: got %v, want ErrDependencyCycle", err)
	}

	// The rejected edge must not be recorded.
	deps, err := p.SectionDependencies("B")
	if err != nil {
		t.Fatalf("list deps: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("B has deps %v, want none", deps)
	}
}

func TestAddSectionDependencyRejectsMultiHopCycle(t *testing.T) {
	p := NewTestProjectDB(t)
	seedSections(t, p, "A", "B", "C")

	if err := p.AddSectionDependency("A", "B"); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if err := p.AddSectionDependency("B", "C"); err != nil {
		t.Fatalf("B->C: %v", err)
	}
	err := p.AddSectionDependency("C", "A")
	if !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("C->A: got %v, want ErrDependencyCycle", err)
	}

	// A diamond is fine: C->D alongside A->B->C.
	seedSections(t, p, "D")
	if err := p.AddSectionDependency("C", "D"); err != nil {
		t.Fatalf("C->D: %v", err)
	}
	if err := p.AddSectionDependency("A", "D"); err != nil {
		t.Fatalf("A->D: %v", err)
	}
}

func TestAddSectionDependencyUnknownSection(t *testing.T) {
	p := NewTestProjectDB(t)
	seedSections(t, p, "A")

	if err := p.AddSectionDependency("A", "ghost"); !errors.Is(err, ErrSectionNotFound) {
		t.Fatalf("A->ghost: got %v, want ErrSectionNotFound", err)
	}
	if err := p.AddSectionDependency("ghost", "A"); !errors.Is(err, ErrSectionNotFound) {
		t.Fatalf("ghost->A: got %v, want ErrSectionNotFound", err)
	}
}
