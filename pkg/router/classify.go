package router

import (
	"sort"
	"strings"
)

// Classification is the coarse complexity bucket of a task type.
type Classification string

const (
	// Simple tasks may be served by the local backend.
	Simple Classification = "simple"
	// Complex tasks always go to the remote backend.
	Complex Classification = "complex"
)

// DefaultSimpleTasks are the task labels served locally when possible.
var DefaultSimpleTasks = []string{"review", "checklist"}

// DefaultComplexTasks are the known labels that require the remote backend.
// Membership is informational; any label outside the simple set is Complex.
var DefaultComplexTasks = []string{
	"editor",
	"analyst",
	"behavioral_fit",
	"hidden_requirements",
	"clustering",
	"interview_prep",
}

// Classifier maps task-type labels to a Classification using a fixed table.
type Classifier struct {
	simple  map[string]struct{}
	complex []string
}

// NewClassifier builds a classifier from the simple and known-complex label
// sets. A nil simple set uses DefaultSimpleTasks.
func NewClassifier(simpleTasks, complexTasks []string) *Classifier {
	if simpleTasks == nil {
		simpleTasks = DefaultSimpleTasks
	}
	if complexTasks == nil {
		complexTasks = DefaultComplexTasks
	}
	c := &Classifier{simple: make(map[string]struct{}, len(simpleTasks))}
	for _, label := range simpleTasks {
		if key := normalizeLabel(label); key != "" {
			c.simple[key] = struct{}{}
		}
	}
	for _, label := range complexTasks {
		key := normalizeLabel(label)
		if _, ok := c.simple[key]; key != "" && !ok {
			c.complex = append(c.complex, key)
		}
	}
	sort.Strings(c.complex)
	return c
}

// DefaultClassifier returns a classifier over the default tables.
func DefaultClassifier() *Classifier {
	return NewClassifier(nil, nil)
}

// Classify returns Simple for labels in the simple set and Complex for
// everything else, unknown labels included.
func (c *Classifier) Classify(label string) Classification {
	if _, ok := c.simple[normalizeLabel(label)]; ok {
		return Simple
	}
	return Complex
}

// SimpleTasks returns the simple label set, sorted.
func (c *Classifier) SimpleTasks() []string {
	out := make([]string, 0, len(c.simple))
	for label := range c.simple {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// ComplexTasks returns the known complex labels, sorted.
func (c *Classifier) ComplexTasks() []string {
	return append([]string(nil), c.complex...)
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
