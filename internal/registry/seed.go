package registry

import (
	"time"

	"github.com/jasonsaas/finhelm-flags/internal/core"
)

// DefaultFlags returns the flag set a fresh process starts with when seeding
// is enabled. These mirror the product's gated surfaces: the QuickBooks
// connector, the multi-agent chat, and the AI analysis features layered on
// top of both.
func DefaultFlags() []core.FeatureFlag {
	created := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	meta := func(tags ...string) core.FlagMetadata {
		return core.FlagMetadata{
			CreatedBy: "system",
			CreatedAt: created,
			UpdatedAt: created,
			Tags:      tags,
		}
	}

	flags := []core.FeatureFlag{
		{
			Key:                  "quickbooks_integration",
			Name:                 "QuickBooks Integration",
			Description:          "Sync and query QuickBooks Online company data",
			DefaultValue:         true,
			EnvironmentOverrides: map[string]bool{"production": true},
			Rollout:              core.Rollout{Percentage: 100},
			Metadata:             meta("integration", "erp"),
		},
		{
			Key:          "ai_agent_chat",
			Name:         "AI Agent Chat",
			Description:  "Finance, sales, operations and executive agent conversations",
			DefaultValue: true,
			Rollout:      core.Rollout{Percentage: 100},
			Metadata:     meta("ai", "chat"),
		},
		{
			Key:          "bulk_operations",
			Name:         "Bulk Operations",
			Description:  "Batch edits across accounts, invoices and journal entries",
			DefaultValue: false,
			Rollout: core.Rollout{
				Percentage: 10,
				AttributeCriteria: &core.AttributeCriteria{
					Roles: []string{"admin", "power_user"},
				},
			},
			Metadata: meta("admin"),
		},
		{
			Key:          "grok_insights",
			Name:         "Grok Insights",
			Description:  "Alternative LLM backend for financial insight generation",
			DefaultValue: false,
			Rollout: core.Rollout{
				Percentage: 25,
				AttributeCriteria: &core.AttributeCriteria{
					Plans: []string{"premium", "enterprise"},
				},
			},
			Metadata: meta("ai", "experimental"),
		},
	}

	// Anomaly detection rides on top of the agent chat and runs as an A/B
	// test between the baseline detector and the ML-enhanced one.
	anomaly := core.FeatureFlag{
		Key:          "anomaly_detection",
		Name:         "Anomaly Detection",
		Description:  "Flag unusual transactions in synced ERP data",
		DefaultValue: false,
		Rollout: core.Rollout{
			Percentage: 100,
			ABTest: &core.ABTestConfig{
				Enabled: true,
				Variants: []core.ABVariant{
					{Name: "baseline", Percentage: 50, Config: map[string]any{"detector": "rules"}},
					{Name: "ml_enhanced", Percentage: 50, Config: map[string]any{"detector": "model", "threshold": 0.85}},
				},
			},
		},
		Metadata: core.FlagMetadata{
			CreatedBy:    "system",
			CreatedAt:    created,
			UpdatedAt:    created,
			Tags:         []string{"ai", "analytics"},
			Dependencies: []string{"ai_agent_chat"},
		},
	}

	return append(flags, anomaly)
}

// NewSeeded returns a registry pre-populated with [DefaultFlags].
func NewSeeded() (*Registry, error) {
	r := New()
	if err := r.AddAll(DefaultFlags()); err != nil {
		return nil, err
	}
	return r, nil
}
