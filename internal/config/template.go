package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultTemplatePath returns ~/.gobby/config.template.yaml, the file
// backing GET/PUT /api/config/template (spec.md §6.3).
func DefaultTemplatePath() string {
	return filepath.Join(HomeDir(), "config.template.yaml")
}

// toMap round-trips v through JSON to get a plain map keyed by its json
// tags, the same keys ExportTemplate/ImportTemplate operate on.
func toMap(v *Values) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// diffFromDefault returns only the keys of m whose value differs from
// the corresponding key in defaults — spec.md §6.3's "Template saves
// persist only non-default values."
func diffFromDefault(m, defaults map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		if dv, ok := defaults[k]; !ok || !equalJSON(v, dv) {
			out[k] = v
		}
	}
	return out
}

// equalJSON compares two values that came out of an encoding/json round
// trip (so only bool/float64/string/nil/map/slice ever appear).
func equalJSON(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// ExportTemplate renders the non-default subset of v as YAML.
func ExportTemplate(v *Values) ([]byte, error) {
	current, err := toMap(v)
	if err != nil {
		return nil, err
	}
	defaults, err := toMap(DefaultValues())
	if err != nil {
		return nil, err
	}
	diff := diffFromDefault(current, defaults)
	return yaml.Marshal(diff)
}

// ImportTemplate applies a YAML document containing a subset of Values'
// json keys onto base, returning the merged result. Unknown keys are
// ignored rather than rejected, since a template saved by a newer Gobby
// version may carry fields this build doesn't know about yet.
func ImportTemplate(yamlDoc []byte, base *Values) (*Values, error) {
	var overrides map[string]any
	if err := yaml.Unmarshal(yamlDoc, &overrides); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	baseMap, err := toMap(base)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		baseMap[k] = v
	}
	merged, err := json.Marshal(baseMap)
	if err != nil {
		return nil, err
	}
	var out Values
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("applying template: %w", err)
	}
	if err := validateValues(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveTemplate persists only the overrides (not the merged Values) to
// path, so a subsequent LoadTemplate + merge round-trips exactly the
// keys the caller set — this is what makes scenario 6 in spec.md §8
// hold: a PUT of {daemon_port: 7777} alone, with every other field at
// its default, yields a GET whose only key is daemon_port.
func SaveTemplate(path string, v *Values) error {
	doc, err := ExportTemplate(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(path, doc, 0o644) //nolint:gosec // template holds no secrets
}

// LoadTemplate reads the raw override document at path, or an empty
// document if the file doesn't exist yet.
func LoadTemplate(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return []byte("{}\n"), nil
		}
		return nil, fmt.Errorf("reading template: %w", err)
	}
	return data, nil
}
