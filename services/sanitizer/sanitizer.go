// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sanitizer masks personally identifiable information in free text
// before it leaves the process boundary toward an LLM provider.
//
// The sanitizer runs an ordered pipeline of independent detectors (email,
// phone, credit card, national ID, street address, postal code, plus an
// optional dictionary-based name detector). Each detector replaces its
// matches with a fixed placeholder token. Detector definitions are embedded
// in the binary (see the enforcement subpackage) so masking rules are
// immutable at runtime.
//
// Sanitize is a pure function of its inputs: it never errors, never logs
// content, and keeps no state between calls.
package sanitizer

import (
	"strings"

	"github.com/AleutianAI/ClassChat/services/sanitizer/enforcement"
)

// =============================================================================
// Settings
// =============================================================================

// Settings selects which detectors run for a single Sanitize call.
//
// Credit-card and national-ID masking are non-negotiable at the product
// level: SettingsFromPreferences never disables them regardless of what the
// user opted into. The zero value disables everything; use DefaultSettings
// or SettingsFromPreferences to get a sane configuration.
type Settings struct {
	MaskEmail         bool
	MaskPhone         bool
	MaskCreditCard    bool
	MaskNationalID    bool
	MaskStreetAddress bool
	MaskPostalCode    bool

	// MaskNames enables the approximate dictionary name detector.
	// Off by default; see the nameDictionary docs for the trade-off.
	MaskNames bool

	// AllowedEmailDomains lists domains whose addresses are considered
	// internal and are left unmasked (case-insensitive comparison).
	AllowedEmailDomains []string
}

// DefaultSettings returns the strictest regex configuration: every category
// masked except names (approximate detection stays opt-in).
func DefaultSettings() Settings {
	return Settings{
		MaskEmail:         true,
		MaskPhone:         true,
		MaskCreditCard:    true,
		MaskNationalID:    true,
		MaskStreetAddress: true,
		MaskPostalCode:    true,
		MaskNames:         false,
	}
}

// PrivacyPreferences mirrors the user-facing privacy preference object
// owned by the surrounding application. It is read at call time; the
// sanitizer itself never stores it.
type PrivacyPreferences struct {
	// SharePersonalInfo is the user's explicit opt-in to sending their
	// personal details (email, phone, name, address) to the provider.
	SharePersonalInfo bool

	// ShareContext gates whether application context (e.g. course or
	// grade hints) may be embedded into generated system prompts.
	ShareContext bool
}

// SettingsFromPreferences derives detector settings from the user's privacy
// preferences.
//
// If the user opted to share personal information, the email, phone, name,
// address and postal-code detectors are disabled. Credit-card and
// national-ID masking remain enabled unconditionally: there is no product
// flow in which sending card or ID numbers to a third-party provider is
// acceptable.
func SettingsFromPreferences(p PrivacyPreferences) Settings {
	s := DefaultSettings()
	if p.SharePersonalInfo {
		s.MaskEmail = false
		s.MaskPhone = false
		s.MaskStreetAddress = false
		s.MaskPostalCode = false
		s.MaskNames = false
	}
	return s
}

func (s Settings) enabled(c Category) bool {
	switch c {
	case CategoryEmail:
		return s.MaskEmail
	case CategoryPhone:
		return s.MaskPhone
	case CategoryCreditCard:
		return s.MaskCreditCard
	case CategoryNationalID:
		return s.MaskNationalID
	case CategoryStreetAddress:
		return s.MaskStreetAddress
	case CategoryPostalCode:
		return s.MaskPostalCode
	case CategoryName:
		return s.MaskNames
	default:
		return false
	}
}

// =============================================================================
// Result
// =============================================================================

// Result is the outcome of sanitizing one piece of content.
//
// OriginalContent exists only for in-call comparison and auditing; it must
// never be persisted or shipped anywhere.
type Result struct {
	// HasPII reports whether any detector matched.
	HasPII bool

	// DetectedCategories lists the categories that matched, deduplicated,
	// in pipeline order.
	DetectedCategories []Category

	// MaskedContent is the content with every match replaced by its
	// category placeholder. Re-sanitizing MaskedContent is a no-op.
	MaskedContent string

	// OriginalContent is the input as received.
	OriginalContent string
}

// =============================================================================
// Sanitizer
// =============================================================================

// Sanitizer serves as the entry point for PII masking operations.
// It holds the compiled detector pipeline and the name dictionary.
//
// # Thread Safety
//
// Safe for concurrent use: all state is read-only after construction.
type Sanitizer struct {
	detectors []*DetectorConfig
	names     *nameDictionary
}

// New initializes a Sanitizer from the detector definitions embedded in the
// binary.
//
// It performs the following operations:
//  1. Unmarshals the embedded YAML detector file.
//  2. Compiles all regex patterns.
//  3. Verifies that no placeholder re-matches any pattern (the idempotence
//     invariant).
//  4. Loads the English and German first-name dictionaries.
//
// Returns an error if the embedded YAML is malformed, contains an invalid
// regex, or violates the placeholder invariant.
func New() (*Sanitizer, error) {
	detectors, err := compileDetectors(enforcement.PIIDetectorPatterns)
	if err != nil {
		return nil, err
	}
	return &Sanitizer{
		detectors: detectors,
		names:     newNameDictionary(enforcement.FirstNamesEnglish, enforcement.FirstNamesGerman),
	}, nil
}

// Sanitize masks every enabled PII category in content.
//
// Detectors run in the embedded pipeline order; each replaces all of its
// matches with the category placeholder and records the category once. The
// optional name detector runs last. Sanitize never fails: it always returns
// a best-effort Result.
func (s *Sanitizer) Sanitize(content string, settings Settings) Result {
	masked := content
	var categories []Category

	for _, d := range s.detectors {
		if !settings.enabled(d.Category) {
			continue
		}
		matched := false
		for _, re := range d.compiled {
			if d.Category == CategoryEmail {
				masked = re.ReplaceAllStringFunc(masked, func(m string) string {
					if emailDomainAllowed(m, settings.AllowedEmailDomains) {
						return m
					}
					matched = true
					return d.Placeholder
				})
				continue
			}
			if re.MatchString(masked) {
				matched = true
				masked = re.ReplaceAllString(masked, d.Placeholder)
			}
		}
		if matched {
			categories = append(categories, d.Category)
		}
	}

	if settings.MaskNames {
		var matched bool
		masked, matched = s.names.mask(masked)
		if matched {
			categories = append(categories, CategoryName)
		}
	}

	return Result{
		HasPII:             len(categories) > 0,
		DetectedCategories: categories,
		MaskedContent:      masked,
		OriginalContent:    content,
	}
}

// emailDomainAllowed reports whether the address's domain is on the
// allow-list. Comparison is case-insensitive and exact (no subdomain
// wildcarding).
func emailDomainAllowed(address string, allowed []string) bool {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(address[at+1:])
	for _, d := range allowed {
		if strings.ToLower(d) == domain {
			return true
		}
	}
	return false
}
