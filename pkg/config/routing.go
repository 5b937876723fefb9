package config

import "sort"

// RoutingConfig holds the task classification table.
type RoutingConfig struct {
	// SimpleTasks may be served by the local backend.
	SimpleTasks []string `yaml:"simple_tasks"`
	// ComplexTasks are the known labels that need the remote backend.
	// Labels outside SimpleTasks are complex whether listed here or not.
	ComplexTasks []string `yaml:"complex_tasks,omitempty"`
}

// DefaultRoutingConfig returns the default classification table.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		SimpleTasks: []string{"review", "checklist"},
		ComplexTasks: []string{
			"editor",
			"analyst",
			"behavioral_fit",
			"hidden_requirements",
			"clustering",
			"interview_prep",
		},
	}
}

// ResolveModel returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (r RemoteConfig) ResolveModel(modelOrAlias string) string {
	if canonical, ok := r.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// AliasNames returns the configured alias names, sorted.
func (r RemoteConfig) AliasNames() []string {
	names := make([]string, 0, len(r.Aliases))
	for name := range r.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
