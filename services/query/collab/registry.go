// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"context"

	"github.com/AvicoreAI/avicore/services/query/config"
)

// Compile-time interface implementation check.
var _ IntentSpecRegistry = (*ConfigIntentRegistry)(nil)

// ConfigIntentRegistry serves intent field requirements from the pipeline
// configuration, so a hot reload of the YAML changes the validator's
// requirements without a restart.
//
// Thread Safety: Safe for concurrent use.
type ConfigIntentRegistry struct{}

// NewConfigIntentRegistry creates a ConfigIntentRegistry.
func NewConfigIntentRegistry() *ConfigIntentRegistry { return &ConfigIntentRegistry{} }

// Requirements returns the configured field spec for the intent.
func (r *ConfigIntentRegistry) Requirements(intent string) (RequiredFields, bool) {
	cfg, err := config.GetPipelineConfig(context.Background())
	if err != nil {
		return RequiredFields{}, false
	}
	spec, ok := cfg.Validation.RequiredFields[intent]
	if !ok {
		return RequiredFields{}, false
	}
	return RequiredFields{Fields: spec.Fields, Critical: spec.Critical}, true
}

// StaticIntentRegistry is a fixed in-memory registry, used in tests and as
// the embedded fallback when no configuration entry exists.
type StaticIntentRegistry struct {
	specs map[string]RequiredFields
}

// NewStaticIntentRegistry creates a registry over a fixed table. The map
// is used directly; callers must not mutate it afterwards.
func NewStaticIntentRegistry(specs map[string]RequiredFields) *StaticIntentRegistry {
	return &StaticIntentRegistry{specs: specs}
}

// Requirements looks up the intent in the fixed table.
func (r *StaticIntentRegistry) Requirements(intent string) (RequiredFields, bool) {
	spec, ok := r.specs[intent]
	return spec, ok
}
