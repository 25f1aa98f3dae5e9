// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package sanitizer

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category identifies one class of personal data the sanitizer can mask.
type Category string

const (
	CategoryEmail         Category = "email"
	CategoryPhone         Category = "phone"
	CategoryCreditCard    Category = "credit_card"
	CategoryNationalID    Category = "national_id"
	CategoryStreetAddress Category = "street_address"
	CategoryPostalCode    Category = "postal_code"
	CategoryName          Category = "name"
)

// NamePlaceholder is the token substituted for dictionary name matches.
// The regex detectors carry their placeholders in the embedded YAML; the
// name detector is code-driven, so its placeholder lives here.
const NamePlaceholder = "[NAME]"

type detectorFile struct {
	Detectors []DetectorConfig `yaml:"detectors"`
}

// DetectorConfig is one detector definition as loaded from the embedded YAML.
type DetectorConfig struct {
	Category    Category  `yaml:"category"`
	Description string    `yaml:"description"`
	Placeholder string    `yaml:"placeholder"`
	Patterns    []Pattern `yaml:"patterns"`

	compiled []*regexp.Regexp `yaml:"-"`
}

// Pattern is a single regex belonging to a detector.
type Pattern struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

// compileDetectors parses the embedded YAML and compiles every pattern.
//
// Two invariants are enforced at load time rather than per call:
//  1. every detector has a non-empty placeholder, and
//  2. no placeholder (including the name placeholder) re-matches any
//     pattern of any detector. This is what makes Sanitize idempotent:
//     running it over already-masked content can never find new spans.
func compileDetectors(raw []byte) ([]*DetectorConfig, error) {
	var file detectorFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded detector file: %w", err)
	}

	detectors := make([]*DetectorConfig, 0, len(file.Detectors))
	for i := range file.Detectors {
		d := &file.Detectors[i]
		if d.Placeholder == "" {
			return nil, fmt.Errorf("detector %q has no placeholder", d.Category)
		}
		for _, p := range d.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile the regex %s: %w", p.Regex, err)
			}
			d.compiled = append(d.compiled, re)
		}
		detectors = append(detectors, d)
	}

	// Placeholder re-match check across the whole pipeline.
	placeholders := []string{NamePlaceholder}
	for _, d := range detectors {
		placeholders = append(placeholders, d.Placeholder)
	}
	for _, d := range detectors {
		for i, re := range d.compiled {
			for _, ph := range placeholders {
				if re.MatchString(ph) {
					return nil, fmt.Errorf("pattern %s of detector %q matches placeholder %q",
						d.Patterns[i].Id, d.Category, ph)
				}
			}
		}
	}
	return detectors, nil
}

// nameDictionary is the word list backing the optional name detector.
//
// Detection is intentionally approximate: tokens are lower-cased and
// stripped of non-letters before lookup, so uncommon names are missed and
// common words that coincide with names (e.g. "mark") are masked. This
// recall/precision trade-off is a documented product decision; do not
// "improve" it without revisiting that decision.
type nameDictionary struct {
	names map[string]struct{}
}

// wordRunes matches maximal letter runs, which is how the dictionary
// tokenizes content. Punctuation glued to a name stays in place.
var wordRunes = regexp.MustCompile(`\p{L}+`)

func newNameDictionary(lists ...[]byte) *nameDictionary {
	d := &nameDictionary{names: make(map[string]struct{})}
	for _, list := range lists {
		scanner := bufio.NewScanner(bytes.NewReader(list))
		for scanner.Scan() {
			name := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if name != "" {
				d.names[name] = struct{}{}
			}
		}
	}
	return d
}

// mask replaces every token found in the dictionary with NamePlaceholder.
// Returns the masked content and whether anything was replaced.
func (d *nameDictionary) mask(content string) (string, bool) {
	matched := false
	masked := wordRunes.ReplaceAllStringFunc(content, func(token string) string {
		if _, ok := d.names[strings.ToLower(token)]; ok {
			matched = true
			return NamePlaceholder
		}
		return token
	})
	return masked, matched
}
