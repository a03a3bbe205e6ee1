package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadDir parses every *.yaml/*.yml file under dir into a WorkflowDef.
// Files that fail to parse are skipped with a logged error rather than
// aborting the whole load — one malformed workflow document should not
// take down every other workflow.
func LoadDir(dir string, logf func(string, ...any)) ([]*WorkflowDef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading workflow directory %q: %w", dir, err)
	}

	var defs []*WorkflowDef
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			logf("workflow: failed to read %s: %v", path, err)
			continue
		}
		def := &WorkflowDef{}
		if err := yaml.Unmarshal(raw, def); err != nil {
			logf("workflow: failed to parse %s: %v", path, err)
			continue
		}
		if def.Name == "" {
			def.Name = baseNameWithoutExt(entry.Name())
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func baseNameWithoutExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}
