package workflow

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// restrictedFuncMap is sprig's function map with anything that reaches
// outside the template (env vars, exec, filesystem) removed, so
// rendering a workflow-authored template can never execute untrusted
// code or touch the outside world (§4.3).
func restrictedFuncMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	for _, unsafe := range []string{"env", "expandenv", "getHostByName"} {
		delete(fm, unsafe)
	}
	return fm
}

// RenderTemplate renders a small Go text/template against data: `{{ var }}`
// substitution with dotted access, conditionals and loops — enough to
// render markdown skeletons, never more (§4.3).
func RenderTemplate(name, body string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(restrictedFuncMap()).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}
	return buf.String(), nil
}
