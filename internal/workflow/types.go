// Package workflow implements the workflow engine: YAML-defined
// trigger/condition/action documents evaluated against hook events, with
// a small non-Turing-complete template and expression language
// (spec.md §4.3).
package workflow

// WorkflowDef is one named workflow document.
type WorkflowDef struct {
	Name     string    `yaml:"name"`
	Triggers []Trigger `yaml:"triggers"`
}

// Trigger fires its Actions in order when When matches an incoming event.
type Trigger struct {
	When    When     `yaml:"when"`
	Actions []Action `yaml:"actions"`
}

// When matches an event type and, optionally, a boolean condition
// expression evaluated against event.data and workflow variables.
type When struct {
	Event     string `yaml:"event"`
	Condition string `yaml:"condition"`
}

// Action is one built-in verb invocation. Args is decoded generically
// since each verb defines its own argument shape.
type Action struct {
	Verb string         `yaml:"verb"`
	Args map[string]any `yaml:",inline"`
}
