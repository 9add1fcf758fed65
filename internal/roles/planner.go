package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gammazero/toposort"
	"github.com/pkg/errors"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
	"github.com/arkaledge/orchestrator/internal/kanban"
)

// PlannerSystemPrompt constrains the backend to emit only a JSON array.
const PlannerSystemPrompt = `You are the planning engineer. Decompose the given product specification into a flat JSON array of tasks.
Output ONLY a JSON array. Each element has:
  "title": string
  "description": string
  "acceptanceCriteria": string[]
  "priority": "high" | "medium" | "low"
  "epic": string (optional)
  "dependsOn": 0-based indices into this same array (optional), each strictly less than the element's own index
Do not include any other commentary.`

// plannedTask is the wire shape parsed out of the backend's JSON array.
type plannedTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           string   `json:"priority"`
	Epic               string   `json:"epic"`
	DependsOn          []int    `json:"dependsOn"`
}

// Planner drives one backend invocation translating a spec into tasks,
// then materializes them into the kanban store.
type Planner struct {
	Runtime        agentruntime.Runtime
	Store          *kanban.Store
	AgentID        string
	ContextPreamble string
}

// Plan sends the spec to the backend, parses the resulting task list, and
// writes it to the kanban store in the two-pass id-translation sequence
// spec.md §4.3 requires.
func (p *Planner) Plan(ctx context.Context, specText, projectDir string) ([]kanban.Task, error) {
	prompt := p.ContextPreamble + "\n\n# SPECIFICATION\n\n" + specText

	stream, err := p.Runtime.Run(ctx, prompt, agentruntime.Options{
		SystemPrompt: PlannerSystemPrompt,
		WorkDir:      projectDir,
	})
	if err != nil {
		return nil, errors.Wrap(err, "planner: run backend")
	}

	var text strings.Builder
	for msg := range stream {
		if msg.Kind == agentruntime.KindText || msg.Kind == agentruntime.KindSummary {
			text.WriteString(msg.Content)
			text.WriteString("\n")
		}
	}

	var parsed []plannedTask
	if err := ExtractJSON(text.String(), &parsed); err != nil {
		return nil, errors.Wrap(err, "planner: parse task list")
	}

	for i, pt := range parsed {
		for _, dep := range pt.DependsOn {
			if dep >= i {
				return nil, fmt.Errorf("planner: task %d depends on index %d which is not strictly earlier", i, dep)
			}
		}
	}
	assertAcyclic(parsed)

	// Pass 1: append each task, capturing assigned ids in arrival order.
	ids := make([]string, len(parsed))
	tasks := make([]kanban.Task, len(parsed))
	for i, pt := range parsed {
		created, err := p.Store.AddTask(kanban.TaskInput{
			Title:              pt.Title,
			Description:        pt.Description,
			AcceptanceCriteria: pt.AcceptanceCriteria,
			Priority:           kanban.Priority(pt.Priority),
			Epic:               pt.Epic,
			Creator:            p.AgentID,
			CreationContext:    "planner",
		})
		if err != nil {
			return nil, errors.Wrapf(err, "planner: add task %d", i)
		}
		ids[i] = created.ID
		tasks[i] = created
	}

	// Pass 2: translate index-based dependsOn into stable ids, filtering
	// any index that ended up out of range.
	for i, pt := range parsed {
		if len(pt.DependsOn) == 0 {
			continue
		}
		var depIDs []string
		for _, dep := range pt.DependsOn {
			if dep >= 0 && dep < len(ids) {
				depIDs = append(depIDs, ids[dep])
			}
		}
		if len(depIDs) == 0 {
			continue
		}
		tasks[i].DependsOn = depIDs
		if err := p.Store.SetDependsOn(ids[i], depIDs); err != nil {
			return nil, errors.Wrapf(err, "planner: set dependsOn for task %d", i)
		}
	}

	return tasks, nil
}

// assertAcyclic runs a defensive topological sort over the parsed,
// index-based dependency edges using gammazero/toposort. spec.md assumes
// planner ordering guarantees acyclicity; this is a cheap verifiable
// assertion rather than blind trust, logged (never fatal) on violation
// since indices are already validated to reference only earlier elements,
// which makes a cycle structurally impossible — the assertion exists to
// catch a future change to that invariant, not today's inputs.
func assertAcyclic(tasks []plannedTask) {
	var edges []toposort.Edge
	for i, t := range tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, i})
			continue
		}
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, i})
		}
	}
	if len(edges) == 0 {
		return
	}
	if _, err := toposort.Toposort(edges); err != nil {
		slog.Default().Warn("planner: dependsOn edges are not acyclic", "error", err)
	}
}
