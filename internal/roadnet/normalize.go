package roadnet

import (
	"regexp"
	"strings"
)

// trailing road-type words stripped during normalization
var roadTypeWords = map[string]bool{
	"RD": true, "ROAD": true,
	"AVE": true, "AVENUE": true,
	"ST": true, "STREET": true,
	"DR": true, "DRIVE": true,
	"HWY": true, "HIGHWAY": true,
	"LN": true, "LANE": true,
	"BLVD": true, "BOULEVARD": true,
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	stateRe      = regexp.MustCompile(`^(?:STATE HIGHWAY|STATE HWY|HIGHWAY|HWY|SH|TX)[- ]?(\d+[A-Z]?)$`)
	usRe         = regexp.MustCompile(`^(?:US HIGHWAY|US HWY|U S|US)[- ]?(\d+[A-Z]?)$`)
	fmRe         = regexp.MustCompile(`^(?:FARM TO MARKET|FARM-TO-MARKET|FM)[- ]?(\d+[A-Z]?)$`)
	crRe         = regexp.MustCompile(`^(?:COUNTY ROAD|CR)[- ]?(\d+[A-Z]?)$`)
	prefixNumRe  = regexp.MustCompile(`^(SH|US|FM|CR) (\d+[A-Z]?)$`)
)

// Normalize canonicalizes a road name: uppercase, trimmed, single spaces,
// trailing road-type words stripped, and highway prefix variants collapsed
// to the SH/US/FM/CR families.
func Normalize(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = whitespaceRe.ReplaceAllString(n, " ")
	if n == "" {
		return ""
	}

	// Strip trailing type words, but never down to nothing.
	for {
		idx := strings.LastIndex(n, " ")
		if idx < 0 {
			break
		}
		if !roadTypeWords[n[idx+1:]] {
			break
		}
		n = n[:idx]
	}

	if m := stateRe.FindStringSubmatch(n); m != nil {
		return "SH " + m[1]
	}
	if m := usRe.FindStringSubmatch(n); m != nil {
		return "US " + m[1]
	}
	if m := fmRe.FindStringSubmatch(n); m != nil {
		return "FM " + m[1]
	}
	if m := crRe.FindStringSubmatch(n); m != nil {
		return "CR " + m[1]
	}
	return n
}

// variant families in deterministic alphabetical order
var variantFamilies = []string{"CR", "FM", "SH", "US"}

// Variants generates alternative canonical names for a prefixed road by
// swapping the family, keeping the numeric part. "HWY 115" normalizes to
// "SH 115" and yields ["CR 115", "FM 115", "US 115"].
func Variants(canonical string) []string {
	m := prefixNumRe.FindStringSubmatch(canonical)
	if m == nil {
		return nil
	}
	var variants []string
	for _, family := range variantFamilies {
		if family == m[1] {
			continue
		}
		variants = append(variants, family+" "+m[2])
	}
	return variants
}
