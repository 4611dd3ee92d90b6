// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"context"
	"fmt"
)

// Compile-time interface implementation check.
var _ FormulaRunner = (*LocalFormulaRunner)(nil)

// formulaFunc computes one named formula over validated parameters.
type formulaFunc func(params map[string]float64) (FormulaResult, error)

// LocalFormulaRunner implements FormulaRunner with in-process formulas.
//
// # Description
//
// Covers the standard production calculations. Each formula validates its
// own parameter ranges and returns KindInvalidInput with the offending
// parameter named, so the calculation adapter can surface a readable
// failure instead of a number built on garbage.
//
// # Thread Safety
//
// Safe for concurrent use (the formula table is read-only).
type LocalFormulaRunner struct {
	formulas map[string]formulaFunc
}

// NewLocalFormulaRunner creates a runner with the built-in formula set.
func NewLocalFormulaRunner() *LocalFormulaRunner {
	r := &LocalFormulaRunner{formulas: make(map[string]formulaFunc)}
	r.formulas["epef"] = runEPEF
	r.formulas["feed_cost_per_bird"] = runFeedCostPerBird
	r.formulas["stocking_density"] = runStockingDensity
	r.formulas["water_intake_estimate"] = runWaterIntake
	return r
}

// Run executes a named formula.
func (r *LocalFormulaRunner) Run(_ context.Context, name string, params map[string]float64) (FormulaResult, error) {
	fn, ok := r.formulas[name]
	if !ok {
		return FormulaResult{}, NewServiceError("formula_runner", KindNotFound,
			fmt.Errorf("unknown formula %q", name))
	}
	return fn(params)
}

func requireParam(params map[string]float64, name string, min, max float64) (float64, error) {
	v, ok := params[name]
	if !ok {
		return 0, NewServiceError("formula_runner", KindInvalidInput,
			fmt.Errorf("missing parameter %q", name))
	}
	if v < min || v > max {
		return 0, NewServiceError("formula_runner", KindInvalidInput,
			fmt.Errorf("parameter %q=%v outside range [%v, %v]", name, v, min, max))
	}
	return v, nil
}

// runEPEF computes the European Production Efficiency Factor:
// (liveability[%] x body weight[kg]) / (age[days] x FCR) x 100.
func runEPEF(params map[string]float64) (FormulaResult, error) {
	liveability, err := requireParam(params, "liveability_pct", 50, 100)
	if err != nil {
		return FormulaResult{}, err
	}
	weightKg, err := requireParam(params, "body_weight_kg", 0.1, 6)
	if err != nil {
		return FormulaResult{}, err
	}
	ageDays, err := requireParam(params, "age_days", 1, 70)
	if err != nil {
		return FormulaResult{}, err
	}
	fcr, err := requireParam(params, "fcr", 0.8, 3.5)
	if err != nil {
		return FormulaResult{}, err
	}

	value := (liveability * weightKg) / (ageDays * fcr) * 100

	res := FormulaResult{
		Value:      value,
		Unit:       "points",
		Confidence: 0.95,
	}
	if fcr > 2.0 {
		res.Warnings = append(res.Warnings, "FCR above 2.0 is unusual for modern broilers; verify the input")
	}
	return res, nil
}

func runFeedCostPerBird(params map[string]float64) (FormulaResult, error) {
	intakeKg, err := requireParam(params, "feed_intake_kg", 0.01, 15)
	if err != nil {
		return FormulaResult{}, err
	}
	pricePerKg, err := requireParam(params, "feed_price_per_kg", 0.01, 10)
	if err != nil {
		return FormulaResult{}, err
	}
	return FormulaResult{
		Value:      intakeKg * pricePerKg,
		Unit:       "currency_per_bird",
		Confidence: 1.0,
		Assumptions: []string{
			"single blended feed price across all phases",
		},
	}, nil
}

func runStockingDensity(params map[string]float64) (FormulaResult, error) {
	flockSize, err := requireParam(params, "flock_size", 1, 1_000_000)
	if err != nil {
		return FormulaResult{}, err
	}
	areaM2, err := requireParam(params, "area_m2", 1, 100_000)
	if err != nil {
		return FormulaResult{}, err
	}

	density := flockSize / areaM2
	res := FormulaResult{
		Value:      density,
		Unit:       "birds_per_m2",
		Confidence: 1.0,
	}
	if density > 22 {
		res.Warnings = append(res.Warnings, "density exceeds 22 birds/m2; check local welfare limits")
	}
	return res, nil
}

// runWaterIntake estimates daily flock water consumption from feed intake
// using the 1.8:1 water-to-feed rule of thumb at thermoneutral temperature.
func runWaterIntake(params map[string]float64) (FormulaResult, error) {
	flockSize, err := requireParam(params, "flock_size", 1, 1_000_000)
	if err != nil {
		return FormulaResult{}, err
	}
	feedPerBirdG, err := requireParam(params, "feed_per_bird_g", 1, 400)
	if err != nil {
		return FormulaResult{}, err
	}

	res := FormulaResult{
		Value:      flockSize * feedPerBirdG * 1.8 / 1000,
		Unit:       "liters_per_day",
		Confidence: 0.8,
		Assumptions: []string{
			"1.8:1 water-to-feed ratio at thermoneutral house temperature",
		},
	}
	if temp, ok := params["house_temp_c"]; ok && temp > 27 {
		res.Warnings = append(res.Warnings, "intake rises roughly 6% per degree above 27C; estimate is a floor")
		res.Confidence = 0.6
	}
	return res, nil
}
