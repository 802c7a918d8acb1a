// package risk maps agent action types to risk tiers. The table is static at
// runtime but administrator-editable through a YAML override file loaded at
// startup. Unknown action types classify as high so anything unrecognized
// requires human review rather than slipping into autopilot.
package risk

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pilotdesk/governance/internal/models"
)

// defaultTable covers the action types the surrounding platform's agents
// emit today. Overrides replace individual entries, never the fallback.
var defaultTable = map[string]models.RiskTier{
	"seo_fix":             models.RiskTierLow,
	"seo_meta_update":     models.RiskTierLow,
	"content_draft":       models.RiskTierLow,
	"publish_social_post": models.RiskTierMedium,
	"publish_blog_post":   models.RiskTierMedium,
	"email_campaign_send": models.RiskTierHigh,
	"pause_ad_campaign":   models.RiskTierHigh,
	"resume_ad_campaign":  models.RiskTierHigh,
	"adjust_ad_budget":    models.RiskTierHigh,
	"delete_ad_campaign":  models.RiskTierCritical,
	"delete_content":      models.RiskTierCritical,
	"change_billing_plan": models.RiskTierCritical,
}

// Classifier resolves action types to risk tiers.
type Classifier struct {
	mu    sync.RWMutex
	table map[string]models.RiskTier
}

// NewClassifier returns a classifier seeded with the built-in table.
func NewClassifier() *Classifier {
	table := make(map[string]models.RiskTier, len(defaultTable))
	for k, v := range defaultTable {
		table[k] = v
	}
	return &Classifier{table: table}
}

// Classify returns the risk tier for actionType, defaulting to high for
// anything not in the table.
func (c *Classifier) Classify(actionType string) models.RiskTier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tier, ok := c.table[actionType]; ok {
		return tier
	}
	return models.RiskTierHigh
}

// SetOverride replaces the tier for a single action type.
func (c *Classifier) SetOverride(actionType string, tier models.RiskTier) error {
	if actionType == "" {
		return fmt.Errorf("action type required")
	}
	if !tier.Valid() {
		return fmt.Errorf("unknown risk tier %q", tier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[actionType] = tier
	return nil
}

// overrideFile is the YAML shape administrators edit:
//
//	overrides:
//	  publish_social_post: low
//	  adjust_ad_budget: critical
type overrideFile struct {
	Overrides map[string]string `yaml:"overrides"`
}

// LoadOverrides merges the override file at path into the table. A missing
// override key keeps its built-in tier; an invalid tier value fails the load
// so a typo cannot silently loosen classification.
func (c *Classifier) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read risk table: %w", err)
	}
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse risk table: %w", err)
	}
	for actionType, tier := range file.Overrides {
		if err := c.SetOverride(actionType, models.RiskTier(tier)); err != nil {
			return fmt.Errorf("risk table entry %q: %w", actionType, err)
		}
	}
	return nil
}
