package sipconfig

import "fmt"

// Lint reports problems that do not make a configuration invalid: duplicate
// extension numbers and buttons pointing at unknown extensions.
func Lint(cfg SipConfiguration) []string {
	var warnings []string
	seen := make(map[string]int, len(cfg.Extensions))
	for i, e := range cfg.Extensions {
		if first, dup := seen[e.Number]; dup {
			warnings = append(warnings, fmt.Sprintf(
				"extensions[%d].number %q duplicates extensions[%d]", i, e.Number, first))
			continue
		}
		seen[e.Number] = i
	}
	for i, b := range cfg.Buttons {
		if _, ok := seen[b.Number]; !ok {
			warnings = append(warnings, fmt.Sprintf(
				"buttons[%d] (%s) references unknown extension %q", i, b.Name, b.Number))
		}
	}
	return warnings
}
