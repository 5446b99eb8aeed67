// Package cardauth is the latency-bounded decision service behind the
// virtual card. The card network posts an authorization webhook when the
// principal taps to pay; the service scores it through the transaction
// governor and answers APPROVED or DECLINED inside the network's deadline.
package cardauth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// CategoryOther is the category for MCCs not in the table.
const CategoryOther = "other"

// MCCMap maps ISO 18245 merchant category codes to governor categories.
// The mapping is data; operators can replace it from YAML.
type MCCMap map[string]string

// DefaultMCCMap returns the built-in table.
func DefaultMCCMap() MCCMap {
	return MCCMap{
		"5732": "Electronics",
		"5734": "Electronics",
		"5411": "Groceries",
		"5422": "Groceries",
		"5812": "Restaurants",
		"5814": "Restaurants",
		"4829": "Wire Transfer",
		"6051": "Cryptocurrency",
		"5945": "Gift Cards",
		"5999": "Miscellaneous",
	}
}

// LoadMCCMap reads an MCC table from a YAML file.
func LoadMCCMap(path string) (MCCMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		MCC map[string]string `yaml:"mcc"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: mcc map: %v", core.ErrInvalidArgument, err)
	}
	if len(doc.MCC) == 0 {
		return nil, fmt.Errorf("%w: mcc map is empty", core.ErrInvalidArgument)
	}
	return MCCMap(doc.MCC), nil
}

// Category resolves an MCC, falling back to "other".
func (m MCCMap) Category(mcc string) string {
	if c, ok := m[mcc]; ok {
		return c
	}
	return CategoryOther
}
