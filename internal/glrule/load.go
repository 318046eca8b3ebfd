package glrule

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/invoice-cli/internal/model"
)

// DefaultPriority applies to rules loaded without a priority.
const DefaultPriority = 5

// fileRule defaults active to true and priority to DefaultPriority.
type fileRule model.GLRule

func (r *fileRule) UnmarshalYAML(n *yaml.Node) error {
	type plain model.GLRule
	p := plain{Active: true, Priority: DefaultPriority}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*r = fileRule(p)
	return nil
}

// LoadRules reads GL rules from a YAML file with a top-level "rules" list.
func LoadRules(path string) ([]model.GLRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "glrule: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates YAML rule definitions.
func ParseRules(data []byte) ([]model.GLRule, error) {
	var wrapper struct {
		Rules []fileRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "glrule: parse rules")
	}

	rules := make([]model.GLRule, 0, len(wrapper.Rules))
	for i, fr := range wrapper.Rules {
		r := model.GLRule(fr)
		if r.ID == "" {
			r.ID = r.Name
		}
		if r.Actions.GLCode == "" {
			return nil, eris.Errorf("glrule: rule %d (%s) has no gl_code", i, r.Name)
		}
		if r.Priority < 1 || r.Priority > 10 {
			return nil, eris.Errorf("glrule: rule %q priority %d outside 1-10", r.Name, r.Priority)
		}
		if t := r.Actions.ConfidenceThreshold; t < 0 || t > 1 {
			return nil, eris.Errorf("glrule: rule %q confidence_threshold %.2f outside [0,1]", r.Name, t)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
