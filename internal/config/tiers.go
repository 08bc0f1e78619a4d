package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

// Tier holds the usage limits of a subscription plan.
type Tier struct {
	AISuggestionsPerDay   int64 `yaml:"ai_suggestions_per_day"`
	ConversationsPerMonth int64 `yaml:"conversations_per_month"`
	Unlimited             bool  `yaml:"unlimited"`
}

// Limit returns the limit of a resource, or model.Unlimited.
func (t Tier) Limit(r model.Resource) int64 {
	if t.Unlimited {
		return model.Unlimited
	}
	if r == model.ResourceAISuggestion {
		return t.AISuggestionsPerDay
	}
	return t.ConversationsPerMonth
}

// Tiers maps plan names to limits.
type Tiers struct {
	Default string          `yaml:"default"`
	Plans   map[string]Tier `yaml:"tiers"`
}

// DefaultTiers returns the built-in plans.
func DefaultTiers() Tiers {
	return Tiers{
		Default: "free",
		Plans: map[string]Tier{
			"free":     {AISuggestionsPerDay: 20, ConversationsPerMonth: 50},
			"pro":      {AISuggestionsPerDay: 200, ConversationsPerMonth: 1000},
			"business": {Unlimited: true},
		},
	}
}

// Resolve returns the tier for plan, falling back to the default plan.
func (t Tiers) Resolve(plan string) (string, Tier) {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if tier, ok := t.Plans[plan]; ok {
		return plan, tier
	}
	return t.Default, t.Plans[t.Default]
}

// LoadTiers reads plan limits from a YAML file. An empty path returns the
// built-in plans.
func LoadTiers(path string) (Tiers, error) {
	if path == "" {
		return DefaultTiers(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tiers{}, fmt.Errorf("read tiers: %w", err)
	}
	var tiers Tiers
	if err := yaml.Unmarshal(data, &tiers); err != nil {
		return Tiers{}, fmt.Errorf("parse tiers: %w", err)
	}
	if err := tiers.validate(); err != nil {
		return Tiers{}, err
	}
	return tiers, nil
}

func (t Tiers) validate() error {
	if len(t.Plans) == 0 {
		return fmt.Errorf("tiers: no plans defined")
	}
	if _, ok := t.Plans[t.Default]; !ok {
		return fmt.Errorf("tiers: default plan %q is not defined", t.Default)
	}
	for name, tier := range t.Plans {
		if tier.Unlimited {
			continue
		}
		if tier.AISuggestionsPerDay < 0 || tier.ConversationsPerMonth < 0 {
			return fmt.Errorf("tiers: plan %q has a negative limit", name)
		}
	}
	return nil
}
