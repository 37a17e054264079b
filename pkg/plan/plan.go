package plan

import (
	"encoding/json"

	"github.com/synthome-dev/synthome/pkg/errors"
)

// Plan is the submitted workflow DAG
type Plan struct {
	Jobs            []*JobSpec `json:"jobs"`
	BaseExecutionID string     `json:"baseExecutionId,omitempty"`
}

// JobSpec is one vertex of the submitted DAG
type JobSpec struct {
	ID           string                 `json:"id"`
	Operation    string                 `json:"operation"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Output       string                 `json:"output,omitempty"`
}

// jobSpecAlias accepts both field spellings used by clients
type jobSpecAlias struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Operation    string                 `json:"operation"`
	Params       map[string]interface{} `json:"params"`
	DependsOn    []string               `json:"dependsOn"`
	Dependencies []string               `json:"dependencies"`
	Output       string                 `json:"output"`
}

// UnmarshalJSON folds the type/operation and dependsOn/dependencies
// alias pairs into the canonical fields.
func (j *JobSpec) UnmarshalJSON(data []byte) error {
	var alias jobSpecAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	j.ID = alias.ID
	j.Operation = alias.Operation
	if j.Operation == "" {
		j.Operation = alias.Type
	}
	j.Params = alias.Params
	j.Dependencies = alias.Dependencies
	if len(j.Dependencies) == 0 {
		j.Dependencies = alias.DependsOn
	}
	j.Output = alias.Output
	return nil
}

// Parse decodes and validates a submitted plan
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.NewError().
			WithCode(errors.InvalidPlan).
			WithMessage("plan is not valid JSON").
			WithError(err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks plan structure: jobs present, ids unique, operations
// known, dependencies resolvable, graph acyclic. Dependencies on jobs
// outside the plan are allowed only when a base execution is declared,
// the store checks those ids at emit time.
func (p *Plan) Validate() error {
	if len(p.Jobs) == 0 {
		return errors.NewError().
			WithCode(errors.InvalidPlan).
			WithMessage("plan has no jobs")
	}

	ids := make(map[string]bool, len(p.Jobs))
	for _, job := range p.Jobs {
		if job.ID == "" {
			return errors.NewError().
				WithCode(errors.InvalidPlan).
				WithMessage("job is missing an id")
		}
		if ids[job.ID] {
			return errors.NewError().
				WithCode(errors.InvalidPlan).
				WithMessagef("duplicate job id '%s'", job.ID)
		}
		ids[job.ID] = true

		if !IsValidOperation(job.Operation) {
			return errors.NewError().
				WithCode(errors.InvalidOperation).
				WithMessagef("unknown operation '%s' for job '%s'", job.Operation, job.ID)
		}
	}

	for _, job := range p.Jobs {
		for _, dep := range job.Dependencies {
			if dep == job.ID {
				return errors.NewError().
					WithCode(errors.InvalidPlan).
					WithMessagef("job '%s' depends on itself", job.ID)
			}
			if !ids[dep] && p.BaseExecutionID == "" {
				return errors.NewError().
					WithCode(errors.InvalidPlan).
					WithMessagef("job '%s' depends on unknown job '%s'", job.ID, dep)
			}
		}
	}

	if hasCycle(p.Jobs) {
		return errors.NewError().
			WithCode(errors.InvalidPlan).
			WithMessage("plan contains a dependency cycle")
	}
	return nil
}

// hasCycle runs Kahn's algorithm over the in-plan edges. Edges into a
// base execution cannot form a cycle and are ignored.
func hasCycle(jobs []*JobSpec) bool {
	inPlan := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		inPlan[job.ID] = true
	}

	graph := make(map[string][]string)
	inDegree := make(map[string]int, len(jobs))
	for _, job := range jobs {
		inDegree[job.ID] = 0
	}
	for _, job := range jobs {
		for _, dep := range job.Dependencies {
			if !inPlan[dep] {
				continue
			}
			graph[dep] = append(graph[dep], job.ID)
			inDegree[job.ID]++
		}
	}

	queue := make([]string, 0, len(jobs))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range graph[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return visited != len(jobs)
}

// Job returns the job with the given id, nil when absent
func (p *Plan) Job(id string) *JobSpec {
	for _, job := range p.Jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// Leaves returns the jobs no other job depends on. The execution's
// final result is derived from these.
func (p *Plan) Leaves() []*JobSpec {
	dependedOn := make(map[string]bool)
	for _, job := range p.Jobs {
		for _, dep := range job.Dependencies {
			dependedOn[dep] = true
		}
	}

	var leaves []*JobSpec
	for _, job := range p.Jobs {
		if !dependedOn[job.ID] {
			leaves = append(leaves, job)
		}
	}
	return leaves
}
