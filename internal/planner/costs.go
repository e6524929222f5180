package planner

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultCost is the expected duration in minutes of a test with no history.
const DefaultCost = 1.0

// CostSource provides the historical expected duration of tests, in minutes.
type CostSource interface {
	UnitCost(name string) (float64, bool)
	IntegrationCost(test IntegrationTest) (float64, bool)
}

// CostTable holds recorded durations per test. The expected cost of a test
// is the mean of its samples. The file form is YAML or JSON:
//
//	unittests:
//	  gle_basic: [12.5, 13.1]
//	integrations:
//	  shell:
//	    regress10: [40, 42]
//	  gap:
//	    "3": [5]
type CostTable struct {
	Unit        map[string][]float64            `yaml:"unittests" json:"unittests"`
	Integration map[string]map[string][]float64 `yaml:"integrations" json:"integrations"`
}

// LoadCostTable reads and validates a cost table. A missing file yields an
// empty table so every test gets DefaultCost.
func LoadCostTable(path string) (*CostTable, error) {
	if path == "" {
		return &CostTable{}, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &CostTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cost table: %w", err)
	}

	var table CostTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse cost table %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// Validate rejects negative or non-finite samples.
func (t *CostTable) Validate() error {
	check := func(name string, samples []float64) error {
		for _, v := range samples {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("cost table: invalid sample %v for %s", v, name)
			}
		}
		return nil
	}
	for name, samples := range t.Unit {
		if err := check(name, samples); err != nil {
			return err
		}
	}
	for typ, tests := range t.Integration {
		for name, samples := range tests {
			if err := check(typ+" "+name, samples); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *CostTable) UnitCost(name string) (float64, bool) {
	return mean(t.Unit[name])
}

func (t *CostTable) IntegrationCost(test IntegrationTest) (float64, bool) {
	return mean(t.Integration[test.Type][test.HistoryKey()])
}

// mean rounds to one decimal like the reports the samples come from.
func mean(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return math.Round(sum/float64(len(samples))*10) / 10, true
}
