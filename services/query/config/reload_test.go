// Copyright (C) 2025 Avicore AI (dev@avicore.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNewReloader_AppliesOverridesOnDisk(t *testing.T) {
	ResetLexicon()
	ResetPipelineConfig()
	t.Cleanup(ResetLexicon)
	t.Cleanup(ResetPipelineConfig)

	dir := t.TempDir()
	writeConfigFile(t, dir, "lexicons.yaml", `
species:
  - canonical: broiler
    synonyms: ["broiler"]
domain_keywords: ["override-marker"]
`)
	writeConfigFile(t, dir, "pipeline.yaml", `
gate:
  search_top_k: 11
`)

	r, err := NewReloader(dir, slog.Default())
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx) // returns immediately, closes the watcher

	lex, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}
	if len(lex.DomainKeywords) != 1 || lex.DomainKeywords[0] != "override-marker" {
		t.Errorf("lexicon override not applied: %v", lex.DomainKeywords)
	}

	cfg, err := GetPipelineConfig(context.Background())
	if err != nil {
		t.Fatalf("GetPipelineConfig: %v", err)
	}
	if cfg.Gate.SearchTopK != 11 {
		t.Errorf("pipeline override not applied: search_top_k = %d", cfg.Gate.SearchTopK)
	}
}

func TestReloader_InvalidOverrideKeepsPreviousConfig(t *testing.T) {
	ResetLexicon()
	t.Cleanup(ResetLexicon)

	before, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}

	dir := t.TempDir()
	writeConfigFile(t, dir, "lexicons.yaml", `
breeds:
  - canonical: ""
    synonyms: ["nameless"]
`)

	r, err := NewReloader(dir, slog.Default())
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	after, err := GetLexicon(context.Background())
	if err != nil {
		t.Fatalf("GetLexicon after bad override: %v", err)
	}
	if after != before {
		t.Error("invalid override replaced the cached lexicon")
	}
}

func TestReloader_WatchesForChanges(t *testing.T) {
	ResetLexicon()
	t.Cleanup(ResetLexicon)

	if _, err := GetLexicon(context.Background()); err != nil {
		t.Fatalf("GetLexicon: %v", err)
	}

	dir := t.TempDir()
	r, err := NewReloader(dir, slog.Default())
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeConfigFile(t, dir, "lexicons.yaml", `
species:
  - canonical: layer
    synonyms: ["layer"]
domain_keywords: ["watched-marker"]
`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		lex, err := GetLexicon(context.Background())
		if err == nil && len(lex.DomainKeywords) == 1 && lex.DomainKeywords[0] == "watched-marker" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watched lexicon change was not applied within the deadline")
}

func TestNewReloader_EmptyDir(t *testing.T) {
	if _, err := NewReloader("", slog.Default()); err == nil {
		t.Fatal("expected an error for an empty directory")
	}
}
