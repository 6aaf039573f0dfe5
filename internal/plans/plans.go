// Package plans holds the per-tier resource limits of each subscription plan.
package plans

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"makercalc/internal/quota"
	"makercalc/models"
)

const (
	mebibyte = int64(1) << 20
	gibibyte = int64(1) << 30
)

// Plan describes the limits of one tier. A limit of -1 is unlimited.
type Plan struct {
	Tier               models.PlanTier `yaml:"-" json:"tier"`
	Name               string          `yaml:"name" json:"name"`
	MaxMaterials       int64           `yaml:"max_materials" json:"max_materials"`
	MaxFormulations    int64           `yaml:"max_formulations" json:"max_formulations"`
	MaxVendors         int64           `yaml:"max_vendors" json:"max_vendors"`
	MaxCategories      int64           `yaml:"max_categories" json:"max_categories"`
	MaxFileAttachments int64           `yaml:"max_file_attachments" json:"max_file_attachments"`
	MaxStorageBytes    int64           `yaml:"max_storage_bytes" json:"max_storage_bytes"`
}

// Limits converts the plan into evaluator limits.
func (p Plan) Limits() quota.Limits {
	return quota.Limits{
		quota.Materials:       p.MaxMaterials,
		quota.Formulations:    p.MaxFormulations,
		quota.Vendors:         p.MaxVendors,
		quota.Categories:      p.MaxCategories,
		quota.FileAttachments: p.MaxFileAttachments,
		quota.Storage:         p.MaxStorageBytes,
	}
}

// Catalog maps tiers to plans.
type Catalog struct {
	plans map[models.PlanTier]Plan
}

// Default returns the built-in catalog.
func Default() *Catalog {
	u := quota.Unlimited
	return &Catalog{plans: map[models.PlanTier]Plan{
		models.PlanFree:         {Tier: models.PlanFree, Name: "Free", MaxMaterials: 25, MaxFormulations: 5, MaxVendors: 10, MaxCategories: 10, MaxFileAttachments: 5, MaxStorageBytes: 50 * mebibyte},
		models.PlanStarter:      {Tier: models.PlanStarter, Name: "Starter", MaxMaterials: 100, MaxFormulations: 25, MaxVendors: 25, MaxCategories: 25, MaxFileAttachments: 50, MaxStorageBytes: 500 * mebibyte},
		models.PlanPro:          {Tier: models.PlanPro, Name: "Pro", MaxMaterials: 500, MaxFormulations: 100, MaxVendors: 100, MaxCategories: 100, MaxFileAttachments: 250, MaxStorageBytes: 2 * gibibyte},
		models.PlanProfessional: {Tier: models.PlanProfessional, Name: "Professional", MaxMaterials: 1000, MaxFormulations: 250, MaxVendors: 250, MaxCategories: 250, MaxFileAttachments: 500, MaxStorageBytes: 5 * gibibyte},
		models.PlanBusiness:     {Tier: models.PlanBusiness, Name: "Business", MaxMaterials: 5000, MaxFormulations: 1000, MaxVendors: u, MaxCategories: u, MaxFileAttachments: 2000, MaxStorageBytes: 20 * gibibyte},
		models.PlanEnterprise:   {Tier: models.PlanEnterprise, Name: "Enterprise", MaxMaterials: u, MaxFormulations: u, MaxVendors: u, MaxCategories: u, MaxFileAttachments: u, MaxStorageBytes: u},
	}}
}

// Load returns the default catalog with tiers overridden from the YAML file at
// path. An empty path returns the defaults unchanged.
func Load(path string) (*Catalog, error) {
	catalog := Default()
	if strings.TrimSpace(path) == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	if err := catalog.Override(data); err != nil {
		return nil, fmt.Errorf("parse plans file %s: %w", path, err)
	}
	return catalog, nil
}

// Override applies a YAML document of the form
//
//	plans:
//	  starter:
//	    max_materials: 150
//
// Fields left out keep their current values.
func (c *Catalog) Override(data []byte) error {
	var doc struct {
		Plans map[string]yaml.Node `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	for name, node := range doc.Plans {
		tier := models.PlanTier(strings.ToLower(strings.TrimSpace(name)))
		if !models.ValidPlanTier(string(tier)) {
			return fmt.Errorf("unknown plan tier %q", name)
		}
		plan := c.plans[tier]
		if err := node.Decode(&plan); err != nil {
			return fmt.Errorf("plan %s: %w", name, err)
		}
		plan.Tier = tier
		if err := plan.validate(); err != nil {
			return fmt.Errorf("plan %s: %w", name, err)
		}
		c.plans[tier] = plan
	}
	return nil
}

func (p Plan) validate() error {
	for res, limit := range p.Limits() {
		if limit < quota.Unlimited {
			return fmt.Errorf("%s limit must be -1 (unlimited) or non-negative, got %d", res, limit)
		}
	}
	return nil
}

// Lookup returns the plan for tier, falling back to the free plan.
func (c *Catalog) Lookup(tier models.PlanTier) Plan {
	if plan, ok := c.plans[tier]; ok {
		return plan
	}
	return c.plans[models.PlanFree]
}

// All returns every plan from smallest to largest tier.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(models.PlanTiers))
	for _, tier := range models.PlanTiers {
		out = append(out, c.Lookup(tier))
	}
	return out
}
