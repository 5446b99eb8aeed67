// Package governor implements context-aware transaction risk scoring. Given
// the amount, local time, merchant category, and merchant name, it produces
// a risk level and an approval status. Pure CPU work, no I/O.
package governor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Risk levels.
const (
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// Approval statuses.
const (
	StatusApproved        = "APPROVED"
	StatusPendingApproval = "PENDING_APPROVAL"
)

// Risk flags.
const (
	FlagHighAmount         = "HIGH_AMOUNT"
	FlagVeryHighAmount     = "VERY_HIGH_AMOUNT"
	FlagOddHours           = "ODD_HOURS"
	FlagHighRiskCategory   = "HIGH_RISK_CATEGORY"
	FlagMediumRiskCategory = "MEDIUM_RISK_CATEGORY"
	FlagOddHoursATM        = "ODD_HOURS_ATM"
)

const (
	highAmountThreshold     = 200.0
	veryHighAmountThreshold = 1000.0
	highLevelThreshold      = 70
	mediumLevelThreshold    = 40
)

// RiskSets holds the category risk tables. The tables are data; operators
// can override them from config.
type RiskSets struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
}

// DefaultRiskSets returns the built-in category tables.
func DefaultRiskSets() RiskSets {
	return RiskSets{
		High: []string{
			"electronics", "wire_transfer", "cryptocurrency", "gift_cards",
			"cash_advance", "gambling", "international_transfer",
		},
		Medium: []string{
			"jewelry", "luxury_goods", "travel", "online_shopping",
		},
	}
}

// LoadRiskSets reads category risk tables from a YAML file.
func LoadRiskSets(path string) (RiskSets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RiskSets{}, err
	}
	var doc struct {
		Risk RiskSets `yaml:"risk"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return RiskSets{}, fmt.Errorf("risk tables: %w", err)
	}
	if len(doc.Risk.High) == 0 && len(doc.Risk.Medium) == 0 {
		return RiskSets{}, fmt.Errorf("risk tables are empty")
	}
	return doc.Risk, nil
}

// Transaction is the tuple the governor scores.
type Transaction struct {
	Amount   float64
	Time     time.Time // local time of the principal
	Category string
	Merchant string
	UserID   string
}

// Assessment is the scored outcome.
type Assessment struct {
	RiskLevel        string    `json:"risk_level"`
	RiskScore        int       `json:"risk_score"`
	Status           string    `json:"status"`
	Flags            []string  `json:"flags"`
	Reasoning        string    `json:"reasoning"`
	RequiresApproval bool      `json:"requires_approval"`
	AssessedAt       time.Time `json:"assessed_at"`
}

// Governor scores transactions against the configured risk tables.
type Governor struct {
	high   map[string]bool
	medium map[string]bool
	clock  func() time.Time
}

// New builds a Governor from risk sets.
func New(sets RiskSets) *Governor {
	g := &Governor{
		high:   make(map[string]bool, len(sets.High)),
		medium: make(map[string]bool, len(sets.Medium)),
		clock:  time.Now,
	}
	for _, c := range sets.High {
		g.high[normalizeCategory(c)] = true
	}
	for _, c := range sets.Medium {
		g.medium[normalizeCategory(c)] = true
	}
	return g
}

// SetClock overrides the timestamp source. Tests only.
func (g *Governor) SetClock(clock func() time.Time) {
	g.clock = clock
}

// Assess scores one transaction.
func (g *Governor) Assess(tx Transaction) Assessment {
	var flags []string
	score := 0

	if tx.Amount > highAmountThreshold {
		flags = append(flags, FlagHighAmount)
		score += 30
	}

	odd := oddHours(tx.Time)
	if odd {
		flags = append(flags, FlagOddHours)
		score += 25
	}

	category := normalizeCategory(tx.Category)
	switch {
	case g.high[category]:
		flags = append(flags, FlagHighRiskCategory)
		score += 35
	case g.medium[category]:
		flags = append(flags, FlagMediumRiskCategory)
		score += 15
	}

	if tx.Amount > veryHighAmountThreshold {
		flags = append(flags, FlagVeryHighAmount)
		score += 20
	}

	if strings.Contains(strings.ToLower(tx.Merchant), "atm") && odd {
		flags = append(flags, FlagOddHoursATM)
		score += 15
	}

	if score > 100 {
		score = 100
	}

	level, status, reasoning := classify(score, flags, tx)

	return Assessment{
		RiskLevel:        level,
		RiskScore:        score,
		Status:           status,
		Flags:            flags,
		Reasoning:        reasoning,
		RequiresApproval: status == StatusPendingApproval,
		AssessedAt:       g.clock().UTC(),
	}
}

func classify(score int, flags []string, tx Transaction) (string, string, string) {
	has := make(map[string]bool, len(flags))
	for _, f := range flags {
		has[f] = true
	}

	// The combination of a large purchase, the middle of the night, and a
	// high-risk category outranks any score threshold.
	if has[FlagHighAmount] && has[FlagOddHours] && has[FlagHighRiskCategory] {
		return LevelCritical, StatusPendingApproval, fmt.Sprintf(
			"CRITICAL RISK TRANSACTION: $%.2f %s purchase at %s (odd hours). This combination of high amount, unusual time, and high-risk category requires immediate Trusted Advocate approval.",
			tx.Amount, tx.Category, tx.Time.Format("03:04 PM"))
	}

	switch {
	case score >= highLevelThreshold:
		return LevelHigh, StatusPendingApproval, fmt.Sprintf(
			"HIGH RISK TRANSACTION (Score: %d/100): $%.2f %s purchase. Flags: %s. Requires approval.",
			score, tx.Amount, tx.Category, strings.Join(flags, ", "))
	case score >= mediumLevelThreshold:
		return LevelMedium, StatusPendingApproval, fmt.Sprintf(
			"MEDIUM RISK TRANSACTION (Score: %d/100): $%.2f %s purchase. Flags: %s. Recommended for review.",
			score, tx.Amount, tx.Category, strings.Join(flags, ", "))
	default:
		return LevelLow, StatusApproved, fmt.Sprintf(
			"LOW RISK TRANSACTION (Score: %d/100): $%.2f %s purchase appears normal.",
			score, tx.Amount, tx.Category)
	}
}

// oddHours reports whether t falls in the 23:00-05:00 window, inclusive on
// both edges, crossing midnight.
func oddHours(t time.Time) bool {
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 23*60 || minutes <= 5*60
}

func normalizeCategory(category string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(category)), " ", "_")
}
