// Package workflow declares pipeline definitions and materializes them into
// persisted pipeline graphs.
package workflow

import (
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// TemplateDependency references another job template in the same definition
// by key.
type TemplateDependency struct {
	Key  string
	Type domain.DependencyType
}

// JobTemplate describes one job within a pipeline definition. A nil value in
// Params marks a parameter that must be supplied by the caller at pipeline
// creation time; non-nil values are literal defaults.
type JobTemplate struct {
	Key               string
	Function          string
	Type              string
	Params            map[string]any
	Dependencies      []TemplateDependency
	Priority          int
	MaxRetries        int
	RetryDelaySeconds int
}

// PipelineDefinition is the static description of a multi-job workflow.
type PipelineDefinition struct {
	Description string
	Jobs        []JobTemplate
}

// Registry is an immutable mapping from pipeline name to definition,
// constructed once during process initialization. Construction validates
// every definition so cyclic or malformed workflows never reach the store.
type Registry struct {
	definitions map[string]PipelineDefinition
}

// NewRegistry validates the given definitions and returns an immutable
// registry. Definitions with duplicate keys, unknown or self dependencies,
// unknown dependency types, or cycles are rejected.
func NewRegistry(definitions map[string]PipelineDefinition) (*Registry, error) {
	defs := make(map[string]PipelineDefinition, len(definitions))
	for name, def := range definitions {
		if err := validateDefinition(name, def); err != nil {
			return nil, err
		}
		defs[name] = def
	}
	return &Registry{definitions: defs}, nil
}

// MustNewRegistry is NewRegistry for statically-declared definitions that are
// known valid; it panics on validation failure.
func MustNewRegistry(definitions map[string]PipelineDefinition) *Registry {
	r, err := NewRegistry(definitions)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the definition registered under name. Unknown names fail
// with a NotFoundError before any database writes occur.
func (r *Registry) Lookup(name string) (PipelineDefinition, error) {
	def, ok := r.definitions[name]
	if !ok {
		return PipelineDefinition{}, domain.ErrNotFound("unknown pipeline: %s", name)
	}
	return def, nil
}

// Names returns the registered pipeline names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	return names
}

func validateDefinition(name string, def PipelineDefinition) error {
	keys := make(map[string]struct{}, len(def.Jobs))
	for _, tmpl := range def.Jobs {
		if tmpl.Key == "" {
			return domain.ErrValidation("pipeline %s: job template with empty key", name)
		}
		if tmpl.Function == "" {
			return domain.ErrValidation("pipeline %s: job %s has empty function", name, tmpl.Key)
		}
		if tmpl.MaxRetries < 0 || tmpl.RetryDelaySeconds < 0 || tmpl.Priority < 0 {
			return domain.ErrValidation("pipeline %s: job %s has negative retry or priority settings", name, tmpl.Key)
		}
		if _, dup := keys[tmpl.Key]; dup {
			return domain.ErrValidation("pipeline %s: duplicate job key %s", name, tmpl.Key)
		}
		keys[tmpl.Key] = struct{}{}
	}

	for _, tmpl := range def.Jobs {
		for _, dep := range tmpl.Dependencies {
			if _, ok := keys[dep.Key]; !ok {
				return domain.ErrValidation("pipeline %s: job %s depends on unknown key %s", name, tmpl.Key, dep.Key)
			}
			if dep.Key == tmpl.Key {
				return domain.ErrValidation("pipeline %s: job %s depends on itself", name, tmpl.Key)
			}
			if dep.Type != domain.DependencySuccessRequired {
				return domain.ErrValidation("pipeline %s: job %s has unknown dependency type %q", name, tmpl.Key, dep.Type)
			}
		}
	}

	if _, err := resolveExecutionOrder(name, def.Jobs); err != nil {
		return err
	}
	return nil
}

// resolveExecutionOrder computes a topological ordering of job templates
// using Kahn's algorithm. Returns levels of template keys where each level
// could execute in parallel. Returns an error if the dependency graph
// contains a cycle.
func resolveExecutionOrder(name string, jobs []JobTemplate) ([][]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(jobs))
	dependents := make(map[string][]string) // dep key → keys that depend on it

	for _, tmpl := range jobs {
		inDegree[tmpl.Key] = 0
	}
	for _, tmpl := range jobs {
		for _, dep := range tmpl.Dependencies {
			dependents[dep.Key] = append(dependents[dep.Key], tmpl.Key)
			inDegree[tmpl.Key]++
		}
	}

	var levels [][]string
	var queue []string
	for key, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}

	processed := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		levels = append(levels, level)
		processed += len(level)

		var next []string
		for _, key := range queue {
			for _, dep := range dependents[key] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(jobs) {
		return nil, domain.ErrValidation("pipeline %s: cycle detected in job dependencies", name)
	}
	return levels, nil
}
