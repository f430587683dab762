// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Domain Semantics Configuration
// =============================================================================

//go:embed semantics.yaml
var defaultSemanticsYAML []byte

// =============================================================================
// Domain Semantics Types and Loading
// =============================================================================

// FieldSemantic documents how a single coded survey column must be read.
type FieldSemantic struct {
	Name    string `yaml:"name"`
	Meaning string `yaml:"meaning"`
}

// AgeCategory maps one BRFSS age category code to its human age range. The
// Age column stores the code, never an actual age.
type AgeCategory struct {
	Code  int    `yaml:"code"`
	Range string `yaml:"range"`
}

// DatasetInfo identifies the survey dataset the assistant answers about.
type DatasetInfo struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	Records    string `yaml:"records"`
	Indicators string `yaml:"indicators"`
}

// Semantics is the full domain-knowledge block rendered into the assistant's
// system prompt. It is loaded from semantics.yaml at startup and cached;
// deployments can point --semantics at an override file with the same shape.
//
// # Thread Safety
//
// Safe for concurrent use after loading (immutable after load).
type Semantics struct {
	Dataset       DatasetInfo     `yaml:"dataset"`
	BinaryFields  []FieldSemantic `yaml:"binary_fields"`
	AgeCategories []AgeCategory   `yaml:"age_categories"`
	AgeExamples   []string        `yaml:"age_examples"`
	NumericFields []FieldSemantic `yaml:"numeric_fields"`
	Guidance      []string        `yaml:"guidance"`
}

var (
	cachedSemantics *Semantics
	semanticsOnce   sync.Once
	semanticsErr    error
)

// LoadSemantics loads and caches the domain semantics from the embedded YAML
// configuration. Returns the cached result on subsequent calls.
//
// # Outputs
//
//   - *Semantics: The loaded semantics. Never nil on success.
//   - error: Non-nil if YAML parsing fails.
//
// # Thread Safety
//
// Safe for concurrent use (uses sync.Once internally).
func LoadSemantics() (*Semantics, error) {
	semanticsOnce.Do(func() {
		parsed, err := parseSemantics(defaultSemanticsYAML)
		if err != nil {
			semanticsErr = fmt.Errorf("parsing semantics.yaml: %w", err)
			return
		}
		cachedSemantics = parsed
		slog.Info("domain semantics loaded",
			slog.Int("binary_fields", len(parsed.BinaryFields)),
			slog.Int("age_categories", len(parsed.AgeCategories)),
		)
	})
	return cachedSemantics, semanticsErr
}

// LoadSemanticsFile loads domain semantics from an override file on disk,
// bypassing the embedded default and the cache.
//
// # Inputs
//
//   - path: Filesystem path to a YAML file matching the Semantics shape.
//
// # Outputs
//
//   - *Semantics: The loaded semantics.
//   - error: Non-nil if the file cannot be read or parsed.
func LoadSemanticsFile(path string) (*Semantics, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading semantics override %s: %w", path, err)
	}
	parsed, err := parseSemantics(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing semantics override %s: %w", path, err)
	}
	return parsed, nil
}

func parseSemantics(raw []byte) (*Semantics, error) {
	var s Semantics
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if len(s.AgeCategories) == 0 {
		return nil, fmt.Errorf("semantics missing age_categories")
	}
	return &s, nil
}

// Render formats the semantics as the prompt block appended to the schema
// description in the assistant's system prompt.
//
// # Outputs
//
//   - string: Deterministic multi-line text (stable field ordering).
func (s *Semantics) Render() string {
	var b strings.Builder

	b.WriteString("What you're working with:\n")
	fmt.Fprintf(&b, "- Real survey data from the %s\n", s.Dataset.Source)
	fmt.Fprintf(&b, "- %s\n", s.Dataset.Records)
	fmt.Fprintf(&b, "- %s\n\n", s.Dataset.Indicators)

	b.WriteString("IMPORTANT - How to read the data:\n\n")

	b.WriteString("Binary fields (0 or 1):\n")
	for _, f := range s.BinaryFields {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Meaning)
	}

	b.WriteString("\nAge categories (CRITICAL - Age is NOT actual age, it's a category number):\n")
	for _, a := range s.AgeCategories {
		fmt.Fprintf(&b, "- Age = %d: %s\n", a.Code, a.Range)
	}

	if len(s.AgeExamples) > 0 {
		b.WriteString("\nExamples of age queries:\n")
		for _, e := range s.AgeExamples {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	b.WriteString("\nOther numeric fields:\n")
	for _, f := range s.NumericFields {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Meaning)
	}

	b.WriteString("\nHow to help:\n")
	for _, g := range s.Guidance {
		fmt.Fprintf(&b, "- %s\n", g)
	}

	return b.String()
}

// =============================================================================
// Semantics Live Reload
// =============================================================================

// WatchSemantics watches an override file and invokes onChange with freshly
// parsed semantics whenever the file is rewritten. Parse failures are logged
// and the previous semantics stay in effect.
//
// # Inputs
//
//   - path: The override file to watch.
//   - onChange: Called with the new semantics after each successful reload.
//
// # Outputs
//
//   - func(): Stops the watcher and releases its resources.
//   - error: Non-nil if the watcher cannot be created or the path registered.
//
// # Thread Safety
//
// onChange is invoked from the watcher goroutine; callers must synchronize
// their own state.
func WatchSemantics(path string, onChange func(*Semantics)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating semantics watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				reloaded, err := LoadSemanticsFile(path)
				if err != nil {
					slog.Warn("semantics reload failed, keeping previous version",
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
					continue
				}
				slog.Info("semantics reloaded", slog.String("path", path))
				onChange(reloaded)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("semantics watcher error", slog.String("error", err.Error()))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
