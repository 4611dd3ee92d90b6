// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collab

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed standards.yaml
var embeddedStandards []byte

// Compile-time interface implementation check.
var _ MetricsStore = (*StandardsStore)(nil)

// standardsFile is the YAML shape of the embedded standards tables.
type standardsFile struct {
	Tables []standardsTable `yaml:"tables"`
}

type standardsTable struct {
	Line   string         `yaml:"line"`
	Sex    string         `yaml:"sex"`
	Metric string         `yaml:"metric"`
	Unit   string         `yaml:"unit"`
	Source string         `yaml:"source"`
	Rows   []standardsRow `yaml:"rows"`
}

type standardsRow struct {
	AgeDays int     `yaml:"age_days"`
	Value   float64 `yaml:"value"`
}

// StandardsStore implements MetricsStore over the embedded breeder
// performance tables.
//
// # Description
//
// Tables are keyed by (line, sex, metric) with value rows at reference
// ages. A lookup at an age between two rows interpolates linearly, which
// matches how the printed breeder guides are read. Sex "as_hatched" rows
// answer lookups with an empty or unknown sex.
//
// # Thread Safety
//
// Safe for concurrent use after construction (read-only after load).
type StandardsStore struct {
	once   sync.Once
	err    error
	tables map[string]*standardsTable
}

// NewStandardsStore creates a store over the embedded tables. Parsing is
// deferred to the first lookup.
func NewStandardsStore() *StandardsStore {
	return &StandardsStore{}
}

func tableKey(line, sex, metric string) string {
	return line + "|" + sex + "|" + metric
}

func (s *StandardsStore) load() {
	var file standardsFile
	if err := yaml.Unmarshal(embeddedStandards, &file); err != nil {
		s.err = fmt.Errorf("parse embedded standards: %w", err)
		return
	}
	s.tables = make(map[string]*standardsTable, len(file.Tables))
	for i := range file.Tables {
		t := &file.Tables[i]
		sort.Slice(t.Rows, func(a, b int) bool { return t.Rows[a].AgeDays < t.Rows[b].AgeDays })
		s.tables[tableKey(t.Line, t.Sex, t.Metric)] = t
	}
}

// Lookup resolves a standard value, interpolating between reference ages.
func (s *StandardsStore) Lookup(_ context.Context, line string, ageDays int, sex, metric string) (MetricValue, error) {
	s.once.Do(s.load)
	if s.err != nil {
		return MetricValue{}, NewServiceError("metrics_store", KindUnavailable, s.err)
	}

	table, ok := s.tables[tableKey(line, sex, metric)]
	if !ok {
		// Mixed-sex tables back lookups without a sex signal.
		table, ok = s.tables[tableKey(line, "as_hatched", metric)]
	}
	if !ok {
		return MetricValue{}, NewServiceError("metrics_store", KindNotFound,
			fmt.Errorf("no table for line=%s sex=%s metric=%s", line, sex, metric))
	}
	if len(table.Rows) == 0 {
		return MetricValue{}, NewServiceError("metrics_store", KindNotFound,
			fmt.Errorf("empty table for line=%s metric=%s", line, metric))
	}

	rows := table.Rows
	if ageDays < rows[0].AgeDays || ageDays > rows[len(rows)-1].AgeDays {
		return MetricValue{}, NewServiceError("metrics_store", KindNotFound,
			fmt.Errorf("age %d outside table range %d-%d", ageDays, rows[0].AgeDays, rows[len(rows)-1].AgeDays))
	}

	idx := sort.Search(len(rows), func(i int) bool { return rows[i].AgeDays >= ageDays })
	if rows[idx].AgeDays == ageDays {
		return MetricValue{Value: rows[idx].Value, Unit: table.Unit, Source: table.Source}, nil
	}

	lo, hi := rows[idx-1], rows[idx]
	frac := float64(ageDays-lo.AgeDays) / float64(hi.AgeDays-lo.AgeDays)
	value := lo.Value + frac*(hi.Value-lo.Value)
	return MetricValue{Value: value, Unit: table.Unit, Source: table.Source}, nil
}
