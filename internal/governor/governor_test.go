package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 5, 10, hour, minute, 0, 0, time.UTC)
}

func TestTwoAMElectronicsPurchaseIsCritical(t *testing.T) {
	g := New(DefaultRiskSets())

	result := g.Assess(Transaction{
		Amount:   1299.99,
		Time:     at(2, 0),
		Category: "Electronics",
		Merchant: "Best Buy",
	})

	assert.Contains(t, result.Flags, FlagHighAmount)
	assert.Contains(t, result.Flags, FlagVeryHighAmount)
	assert.Contains(t, result.Flags, FlagOddHours)
	assert.Contains(t, result.Flags, FlagHighRiskCategory)
	assert.Equal(t, LevelCritical, result.RiskLevel)
	assert.Equal(t, StatusPendingApproval, result.Status)
	assert.True(t, result.RequiresApproval)
}

func TestDaytimeGroceriesApproved(t *testing.T) {
	g := New(DefaultRiskSets())

	result := g.Assess(Transaction{
		Amount:   87.50,
		Time:     at(14, 0),
		Category: "Groceries",
		Merchant: "SAFEWAY",
	})

	assert.Equal(t, LevelLow, result.RiskLevel)
	assert.Equal(t, StatusApproved, result.Status)
	assert.Equal(t, 0, result.RiskScore)
	assert.Empty(t, result.Flags)
}

func TestOddHoursBoundaries(t *testing.T) {
	cases := []struct {
		name string
		time time.Time
		odd  bool
	}{
		{"just before window", at(22, 59), false},
		{"window start", at(23, 0), true},
		{"midnight", at(0, 0), true},
		{"window end", at(5, 0), true},
		{"just after window", at(5, 1), false},
		{"afternoon", at(15, 30), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.odd, oddHours(tc.time))
		})
	}
}

func TestCategoryNormalization(t *testing.T) {
	g := New(DefaultRiskSets())

	result := g.Assess(Transaction{
		Amount:   50,
		Time:     at(12, 0),
		Category: "Wire Transfer",
		Merchant: "WU",
	})
	assert.Contains(t, result.Flags, FlagHighRiskCategory)

	result = g.Assess(Transaction{
		Amount:   50,
		Time:     at(12, 0),
		Category: "LUXURY GOODS",
		Merchant: "Gucci",
	})
	assert.Contains(t, result.Flags, FlagMediumRiskCategory)
}

func TestATMAtNight(t *testing.T) {
	g := New(DefaultRiskSets())

	night := g.Assess(Transaction{
		Amount:   100,
		Time:     at(3, 0),
		Category: "cash",
		Merchant: "CHASE ATM #42",
	})
	assert.Contains(t, night.Flags, FlagOddHoursATM)

	day := g.Assess(Transaction{
		Amount:   100,
		Time:     at(13, 0),
		Category: "cash",
		Merchant: "CHASE ATM #42",
	})
	assert.NotContains(t, day.Flags, FlagOddHoursATM)
}

func TestMediumRiskRequiresReview(t *testing.T) {
	g := New(DefaultRiskSets())

	// HIGH_AMOUNT (30) + MEDIUM_RISK_CATEGORY (15) = 45.
	result := g.Assess(Transaction{
		Amount:   450,
		Time:     at(11, 0),
		Category: "Travel",
		Merchant: "Expedia",
	})

	assert.Equal(t, 45, result.RiskScore)
	assert.Equal(t, LevelMedium, result.RiskLevel)
	assert.Equal(t, StatusPendingApproval, result.Status)
}

func TestHighScoreWithoutCriticalCombo(t *testing.T) {
	g := New(DefaultRiskSets())

	// VERY_HIGH_AMOUNT at midday in a high-risk category:
	// 30 + 35 + 20 = 85, HIGH but not CRITICAL (no odd hours).
	result := g.Assess(Transaction{
		Amount:   2500,
		Time:     at(12, 0),
		Category: "Cryptocurrency",
		Merchant: "Coinbase",
	})

	assert.Equal(t, 85, result.RiskScore)
	assert.Equal(t, LevelHigh, result.RiskLevel)
	assert.NotContains(t, result.Flags, FlagOddHours)
}

func TestScoreClamped(t *testing.T) {
	g := New(DefaultRiskSets())

	// 30 + 25 + 35 + 20 + 15 = 125, clamped to 100.
	result := g.Assess(Transaction{
		Amount:   5000,
		Time:     at(1, 0),
		Category: "gift_cards",
		Merchant: "7-ELEVEN ATM",
	})
	assert.Equal(t, 100, result.RiskScore)
	assert.Equal(t, LevelCritical, result.RiskLevel)
}

func TestAmountThresholdEdges(t *testing.T) {
	g := New(DefaultRiskSets())

	exactly200 := g.Assess(Transaction{Amount: 200, Time: at(12, 0), Category: "other", Merchant: "x"})
	assert.NotContains(t, exactly200.Flags, FlagHighAmount)

	over200 := g.Assess(Transaction{Amount: 200.01, Time: at(12, 0), Category: "other", Merchant: "x"})
	assert.Contains(t, over200.Flags, FlagHighAmount)

	exactly1000 := g.Assess(Transaction{Amount: 1000, Time: at(12, 0), Category: "other", Merchant: "x"})
	assert.NotContains(t, exactly1000.Flags, FlagVeryHighAmount)
}
