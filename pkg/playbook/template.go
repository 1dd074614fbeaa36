package playbook

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches {dotted.path} tokens inside a param template. JSON
// braces in a template do not match because their contents are not bare
// identifier paths.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\}`)

// ResolveParams substitutes {dotted.path} placeholders in each param
// template from the run's context. Substitution is eager and string-only.
// An absent field renders as empty, never as a literal null marker; a param
// whose template is non-empty but resolves to the empty string is a missing
// required parameter and fails the step.
func ResolveParams(templates map[string]string, context map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(templates))
	var missing []string

	for name, tmpl := range templates {
		value := placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
			path := token[1 : len(token)-1]
			return context[path]
		})
		if tmpl != "" && value == "" {
			missing = append(missing, name)
			continue
		}
		resolved[name] = value
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return resolved, nil
}
