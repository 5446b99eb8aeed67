// Package sentinel implements the scam interceptor: a deterministic,
// rule-based classifier for call transcripts. The pattern table is data and
// can be replaced from YAML without touching code.
package sentinel

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Recommended actions by fraud score.
const (
	ActionAllow     = "ALLOW"
	ActionAnswerBot = "ACTIVATE_ANSWER_BOT"
	ActionBlock     = "INTERVENE_AND_BLOCK"
)

// Category is one weighted group of indicator patterns. A category
// contributes its weight at most once per transcript regardless of how many
// of its patterns match.
type Category struct {
	Name     string   `yaml:"name"`
	Weight   int      `yaml:"weight"`
	Patterns []string `yaml:"patterns"`
}

// DefaultCategories returns the built-in indicator table.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:   "urgency",
			Weight: 25,
			Patterns: []string{
				`\b(urgent|emergency|immediately|right now|asap|hurry)\b`,
				`\b(act now|time sensitive|limited time)\b`,
				`\b(before it's too late|last chance)\b`,
			},
		},
		{
			Name:   "gift_cards",
			Weight: 35,
			Patterns: []string{
				`\b(gift card|gift|card|itunes|google play|steam|amazon card)\b`,
				`\b(prepaid card|reload|redeem)\b`,
				`\b(scratch off|activation code)\b`,
			},
		},
		{
			Name:   "authority_impersonation",
			Weight: 30,
			Patterns: []string{
				`\b(irs|internal revenue|tax|government|federal)\b`,
				`\b(social security|medicare|medicaid)\b`,
				`\b(police|sheriff|officer|detective|fbi|dea)\b`,
				`\b(warrant|arrest|legal action|lawsuit)\b`,
				`\b(bank|account frozen|suspicious activity)\b`,
			},
		},
		{
			Name:   "payment_pressure",
			Weight: 20,
			Patterns: []string{
				`\b(pay now|send money|wire transfer|western union)\b`,
				`\b(cash|bitcoin|cryptocurrency|venmo|zelle)\b`,
				`\b(penalty|fine|fee|charge|owe)\b`,
			},
		},
		{
			Name:   "personal_info_request",
			Weight: 25,
			Patterns: []string{
				`\b(social security number|ssn|account number|password)\b`,
				`\b(pin|verification code|security code)\b`,
				`\b(date of birth|mother's maiden name)\b`,
			},
		},
		{
			Name:   "family_emergency",
			Weight: 30,
			Patterns: []string{
				`\b(grandchild|grandson|granddaughter|nephew|niece)\b`,
				`\b(accident|hospital|jail|arrested|trouble)\b`,
				`\b(bail|lawyer|attorney|legal fees)\b`,
			},
		},
	}
}

// LoadCategories reads a pattern table from a YAML file.
func LoadCategories(path string) ([]Category, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Categories []Category `yaml:"categories"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: pattern table: %v", core.ErrInvalidArgument, err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("%w: pattern table is empty", core.ErrInvalidArgument)
	}
	return doc.Categories, nil
}

type compiledCategory struct {
	name     string
	weight   int
	patterns []*regexp.Regexp
}

// Indicator is one matched category in an analysis.
type Indicator struct {
	Category string `json:"category"`
	Pattern  string `json:"pattern"`
	Weight   int    `json:"weight"`
}

// Analysis is the classifier output. Same transcript in, same Analysis out.
type Analysis struct {
	FraudScore int         `json:"fraud_score"`
	Indicators []Indicator `json:"indicators"`
	Action     string      `json:"action"`
	Reasoning  string      `json:"reasoning"`
	AnalyzedAt time.Time   `json:"analyzed_at"`
}

// Analyzer scores transcripts against a compiled pattern table.
type Analyzer struct {
	categories []compiledCategory
	clock      func() time.Time
}

// NewAnalyzer compiles the given categories. Regexes are compiled once;
// compilation failure is a startup error.
func NewAnalyzer(categories []Category) (*Analyzer, error) {
	a := &Analyzer{clock: time.Now}
	for _, c := range categories {
		cc := compiledCategory{name: c.Name, weight: c.Weight}
		for _, p := range c.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("%w: pattern %q in %s: %v", core.ErrInvalidArgument, p, c.Name, err)
			}
			cc.patterns = append(cc.patterns, re)
		}
		a.categories = append(a.categories, cc)
	}
	return a, nil
}

// SetClock overrides the timestamp source. Tests only.
func (a *Analyzer) SetClock(clock func() time.Time) {
	a.clock = clock
}

// Analyze scores a transcript. Each category counts once; the total is
// clamped to 100. Pure CPU work, no I/O.
func (a *Analyzer) Analyze(transcript string) Analysis {
	lower := strings.ToLower(transcript)

	var indicators []Indicator
	total := 0

	for _, c := range a.categories {
		for _, re := range c.patterns {
			if re.MatchString(lower) {
				indicators = append(indicators, Indicator{
					Category: c.name,
					Pattern:  re.String(),
					Weight:   c.weight,
				})
				total += c.weight
				break
			}
		}
	}

	score := total
	if score > 100 {
		score = 100
	}

	action, reasoning := determineAction(score, indicators)

	return Analysis{
		FraudScore: score,
		Indicators: indicators,
		Action:     action,
		Reasoning:  reasoning,
		AnalyzedAt: a.clock().UTC(),
	}
}

func determineAction(score int, indicators []Indicator) (string, string) {
	names := make([]string, len(indicators))
	for i, ind := range indicators {
		names[i] = ind.Category
	}
	joined := strings.Join(names, ", ")

	switch {
	case score > 80:
		return ActionBlock, fmt.Sprintf(
			"CRITICAL THREAT DETECTED (Score: %d/100). Multiple high-risk scam indicators identified: %s. Immediate intervention required to protect user.",
			score, joined)
	case score > 50:
		return ActionAnswerBot, fmt.Sprintf(
			"SUSPICIOUS ACTIVITY DETECTED (Score: %d/100). Scam indicators present: %s. Activating answer bot to waste the caller's time and gather intelligence.",
			score, joined)
	default:
		return ActionAllow, fmt.Sprintf(
			"LOW RISK (Score: %d/100). Call appears legitimate. Monitoring continues.", score)
	}
}
