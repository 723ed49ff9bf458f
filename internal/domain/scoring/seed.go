package scoring

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// DefaultRules returns the built-in rule set, decoded from the embedded seed.
// IDs are assigned by the store at seed time.
func DefaultRules() ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(defaultRulesYAML, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode embedded rule seed: %w", err)
	}
	for i := range rules {
		if !rules[i].RuleKey.IsValid() {
			return nil, fmt.Errorf("embedded rule seed has unknown key %q", rules[i].RuleKey)
		}
	}
	return rules, nil
}
