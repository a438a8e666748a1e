package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	maxCaseNumberLength   = 50
	maxJurisdictionLength = 20
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	nonAlphaNumRe = regexp.MustCompile(`[^A-Z0-9]`)
)

// NormalizeCaseNumber canonicalizes a raw case number into a display form and
// an alphanumeric-only key. The key is used only for hashing and unique
// lookups, never shown to users. When the raw value is absent a synthetic
// identifier is derived from fallbackID so the record still gets a stable key.
func NormalizeCaseNumber(raw, fallbackID string) (display, key string) {
	display = strings.TrimSpace(raw)
	if display == "" {
		if fallbackID == "" {
			return "", ""
		}
		display = "CL-" + strings.TrimSpace(fallbackID)
	}

	display = strings.ToUpper(whitespaceRe.ReplaceAllString(display, " "))
	if len(display) > maxCaseNumberLength {
		display = display[:maxCaseNumberLength]
	}

	key = nonAlphaNumRe.ReplaceAllString(display, "")
	return display, key
}

// jurisdictionAliases maps common country-level tokens to the short code.
var jurisdictionAliases = map[string]string{
	"us":            "US",
	"usa":           "US",
	"u.s.":          "US",
	"u.s.a.":        "US",
	"united states": "US",
	"federal":       "US",
}

// NormalizeJurisdiction maps aliases to a short code, passes two-letter codes
// through uppercased and truncates unknown long values.
func NormalizeJurisdiction(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if code, ok := jurisdictionAliases[strings.ToLower(trimmed)]; ok {
		return code
	}
	if len(trimmed) == 2 {
		return strings.ToUpper(trimmed)
	}
	if len(trimmed) > maxJurisdictionLength {
		return trimmed[:maxJurisdictionLength]
	}
	return trimmed
}

// OutcomeRule matches raw status text and yields a canonical label and
// category. Rules are evaluated strictly in table order: the ordering is a
// deliberate tie-break (a "dismissed after settlement talks" docket must
// classify as dismissed, not settled) and must not be rearranged.
type OutcomeRule struct {
	Pattern  *regexp.Regexp
	Label    string
	Category string
}

// OutcomeRules is the ordered first-match-wins outcome table.
var OutcomeRules = []OutcomeRule{
	{regexp.MustCompile(`(?i)dismiss`), "Dismissed", "dismissed"},
	{regexp.MustCompile(`(?i)settl`), "Settled", "settled"},
	{regexp.MustCompile(`(?i)vacat`), "Vacated", "vacated"},
	{regexp.MustCompile(`(?i)remand`), "Remanded", "remanded"},
	{regexp.MustCompile(`(?i)(judgment|verdict|ruling).{0,40}(plaintiff|petitioner)`), "Judgment for Plaintiff", "judgment_plaintiff"},
	{regexp.MustCompile(`(?i)(judgment|verdict|ruling).{0,40}(defendant|respondent)`), "Judgment for Defendant", "judgment_defendant"},
	{regexp.MustCompile(`(?i)pending|active|open`), "Pending", "pending"},
	{regexp.MustCompile(`(?i)closed|terminat|disposed`), "Closed", "closed"},
}

// NormalizeOutcome matches raw status text against the ordered outcome table.
// Unmatched text passes through title-cased with category "other".
func NormalizeOutcome(raw string) (label, category string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "Unknown", "other"
	}
	for _, rule := range OutcomeRules {
		if rule.Pattern.MatchString(trimmed) {
			return rule.Label, rule.Category
		}
	}
	return titleCase(trimmed), "other"
}

// DocketHashInput carries the content fields the idempotency key derives from.
type DocketHashInput struct {
	CaseNumberKey string
	Jurisdiction  string
	JudgeID       uint
	ExternalID    string
	FilingDate    *time.Time
}

// CreateDocketHash derives the content-based idempotency key: present fields
// joined with a delimiter and hashed. Returns "" when every input is empty,
// which tells the caller to fall back to the case-number+jurisdiction unique
// key instead.
func CreateDocketHash(in DocketHashInput) string {
	parts := make([]string, 0, 5)
	if in.CaseNumberKey != "" {
		parts = append(parts, strings.ToUpper(in.CaseNumberKey))
	}
	if in.Jurisdiction != "" {
		parts = append(parts, strings.ToUpper(in.Jurisdiction))
	}
	if in.JudgeID != 0 {
		parts = append(parts, fmt.Sprintf("J%d", in.JudgeID))
	}
	if in.ExternalID != "" {
		parts = append(parts, strings.ToUpper(in.ExternalID))
	}
	if in.FilingDate != nil {
		parts = append(parts, in.FilingDate.Format("2006-01-02"))
	}
	if len(parts) == 0 {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CaseTypeRule matches keywords against docket text and yields a case type.
type CaseTypeRule struct {
	Keywords []string
	CaseType string
}

// CaseTypeRules is the ordered first-match-wins classification table.
// Specific categories come before broad ones so "civil rights employment
// discrimination" lands on employment rather than civil.
var CaseTypeRules = []CaseTypeRule{
	{[]string{"criminal", "felony", "misdemeanor", "prosecution", "people v", "state v", "united states v"}, "criminal"},
	{[]string{"family", "divorce", "custody", "child support", "domestic relations", "adoption"}, "family"},
	{[]string{"probate", "estate of", "trust", "guardianship", "conservator"}, "probate"},
	{[]string{"bankruptcy", "chapter 7", "chapter 11", "chapter 13", "debtor"}, "bankruptcy"},
	{[]string{"tax", "internal revenue", "irs"}, "tax"},
	{[]string{"employment", "labor", "wrongful termination", "discrimination", "wage", "title vii"}, "employment"},
	{[]string{"appeal", "appellate", "certiorari", "petition for review"}, "appeals"},
	{[]string{"traffic", "dui", "dwi", "motor vehicle"}, "traffic"},
	{[]string{"immigration", "asylum", "deportation", "removal proceedings", "naturalization", "visa"}, "immigration"},
	{[]string{"insurance", "coverage", "policyholder"}, "insurance"},
	{[]string{"civil", "contract", "tort", "negligence", "personal injury", "property"}, "civil"},
}

// ClassifyCaseType classifies a case from its nature-of-suit,
// jurisdiction-type and case-name fields via the ordered keyword table.
func ClassifyCaseType(natureOfSuit, jurisdictionType, caseName string) string {
	haystack := strings.ToLower(natureOfSuit + " " + jurisdictionType + " " + caseName)
	for _, rule := range CaseTypeRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(haystack, kw) {
				return rule.CaseType
			}
		}
	}
	return "general_litigation"
}

// titleCase uppercases the first letter of each word, lowercasing the rest.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
