// Package rules loads organization-specific cost-allocation rules and
// assembles the analysis system prompt. Rules files are JSON or YAML;
// a missing file is not an error, analysis just proceeds without
// organization-specific formulas.
package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the cost-calculation rules document. The document shape is
// owned by the FinOps team, so beyond the analysis goal it is kept as
// free-form data and rendered verbatim into the system prompt.
type Rules struct {
	doc map[string]any
}

// Load reads a rules file. A missing file yields empty rules and
// ok=false; a present but unparseable file is an error.
func Load(path string) (*Rules, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Rules{}, false, nil
		}
		return nil, false, fmt.Errorf("read rules file %s: %w", path, err)
	}

	// YAML is a superset of JSON, so one decoder covers both formats.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return &Rules{doc: doc}, true, nil
}

// Empty reports whether no rules document was loaded.
func (r *Rules) Empty() bool {
	return r == nil || len(r.doc) == 0
}

// AnalysisGoal returns the top-level analysis_goal string, if present.
func (r *Rules) AnalysisGoal() string {
	if r == nil {
		return ""
	}
	if goal, ok := r.doc["analysis_goal"].(string); ok {
		return goal
	}
	return ""
}

// Render returns the rules document as indented JSON for embedding in
// the system prompt.
func (r *Rules) Render() string {
	if r.Empty() {
		return ""
	}
	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
