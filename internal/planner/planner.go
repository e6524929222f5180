// Package planner partitions requested tests across machines so every
// machine finishes at about the same time.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"cifleet/internal/apperr"
)

// Request is one partition request.
type Request struct {
	UnitTests    []string
	Integrations []IntegrationTest
	// Machines is the number of buckets to produce.
	Machines int
	// OSLabels are assigned to buckets round-robin.
	OSLabels []string
	// Special lists unit test prefixes that cannot run on legacy or
	// container OS labels. A unit test's prefix is the part before the
	// first underscore.
	Special []string
}

// Bucket is the work for one machine.
type Bucket struct {
	OS           string            `json:"os"`
	UnitTests    []string          `json:"unittests"`
	Integrations []IntegrationTest `json:"integrations"`
	// Cost is the expected duration in minutes.
	Cost float64 `json:"cost"`
}

// Empty reports whether the bucket has no tests. Callers must not start a
// machine for an empty bucket.
func (b Bucket) Empty() bool {
	return len(b.UnitTests) == 0 && len(b.Integrations) == 0
}

// Compatible reports whether special unit tests may run on os.
func Compatible(os string) bool {
	return os != "centos6" && !strings.HasPrefix(os, "k8s")
}

type item struct {
	id   string
	cost float64
	unit string
	it   IntegrationTest
}

// Plan assigns every requested test to exactly one of req.Machines buckets
// using longest-processing-time-first. Special unit tests are placed on
// compatible buckets first, the remaining unit tests on all buckets, and
// the integration tests last on top of the unit test loads.
//
// Malformed input yields a validation error and no buckets.
func Plan(req Request, costs CostSource) ([]Bucket, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	special := make(map[string]bool, len(req.Special))
	for _, s := range req.Special {
		special[strings.TrimSpace(s)] = true
	}

	buckets := make([]Bucket, req.Machines)
	var compatible []int
	for i := range buckets {
		buckets[i].OS = req.OSLabels[i%len(req.OSLabels)]
		if Compatible(buckets[i].OS) {
			compatible = append(compatible, i)
		}
	}

	var specialUnits, otherUnits []item
	for _, name := range req.UnitTests {
		cost, ok := costs.UnitCost(name)
		if !ok {
			cost = DefaultCost
		}
		it := item{id: name, cost: cost, unit: name}
		prefix, _, _ := strings.Cut(name, "_")
		if special[prefix] {
			specialUnits = append(specialUnits, it)
		} else {
			otherUnits = append(otherUnits, it)
		}
	}

	if len(specialUnits) > 0 && len(compatible) == 0 {
		return nil, apperr.Validation("%d special unit tests but no compatible OS among %v", len(specialUnits), req.OSLabels)
	}

	var integrations []item
	for _, t := range req.Integrations {
		cost, ok := costs.IntegrationCost(t)
		if !ok {
			cost = DefaultCost
		}
		integrations = append(integrations, item{id: t.String(), cost: cost, it: t})
	}

	place := func(items []item, targets []int, integration bool) {
		for _, it := range lpt(items) {
			best := targets[0]
			for _, idx := range targets[1:] {
				if buckets[idx].Cost < buckets[best].Cost {
					best = idx
				}
			}
			b := &buckets[best]
			b.Cost += it.cost
			if integration {
				b.Integrations = append(b.Integrations, it.it)
			} else {
				b.UnitTests = append(b.UnitTests, it.unit)
			}
		}
	}

	all := make([]int, req.Machines)
	for i := range all {
		all[i] = i
	}

	if len(specialUnits) > 0 {
		place(specialUnits, compatible, false)
	}
	place(otherUnits, all, false)
	place(integrations, all, true)

	return buckets, nil
}

// lpt orders items by cost descending, then id, so the plan is deterministic.
func lpt(items []item) []item {
	sorted := append([]item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].cost != sorted[j].cost {
			return sorted[i].cost > sorted[j].cost
		}
		return sorted[i].id < sorted[j].id
	})
	return sorted
}

func validate(req Request) error {
	if req.Machines < 1 {
		return apperr.Validation("machine count must be at least 1, got %d", req.Machines)
	}
	if len(req.OSLabels) == 0 {
		return apperr.Validation("at least one OS label is required")
	}
	for _, os := range req.OSLabels {
		if strings.TrimSpace(os) == "" {
			return apperr.Validation("blank OS label")
		}
	}

	seen := make(map[string]bool, len(req.UnitTests)+len(req.Integrations))
	for _, name := range req.UnitTests {
		if strings.TrimSpace(name) == "" {
			return apperr.Validation("blank unit test id")
		}
		if seen["ut:"+name] {
			return apperr.Validation("duplicate unit test %q", name)
		}
		seen["ut:"+name] = true
	}
	for _, t := range req.Integrations {
		if strings.TrimSpace(t.Type) == "" || strings.TrimSpace(t.Num) == "" {
			return apperr.Validation("blank integration test id %q", t.String())
		}
		if seen["it:"+t.String()] {
			return apperr.Validation("duplicate integration test %q", t.String())
		}
		seen["it:"+t.String()] = true
	}
	return nil
}

// Format renders buckets in the pipeline's result string form:
// "os $$$ ut1 ut2 $$$ type: 1 2 ; type2: 3 ; " with buckets joined by "#".
// Empty lists render as "none".
func Format(buckets []Bucket) string {
	groups := make([]string, 0, len(buckets))
	for _, b := range buckets {
		ut := "none"
		if len(b.UnitTests) > 0 {
			ut = strings.Join(b.UnitTests, " ")
		}

		it := "none"
		if len(b.Integrations) > 0 {
			var (
				order  []string
				byType = make(map[string][]string)
			)
			for _, t := range b.Integrations {
				if _, ok := byType[t.Type]; !ok {
					order = append(order, t.Type)
				}
				byType[t.Type] = append(byType[t.Type], t.Num)
			}
			var sb strings.Builder
			for _, typ := range order {
				fmt.Fprintf(&sb, "%s: %s ; ", typ, strings.Join(byType[typ], " "))
			}
			it = strings.TrimSpace(sb.String())
		}

		groups = append(groups, fmt.Sprintf("%s $$$ %s $$$ %s", b.OS, ut, it))
	}
	return strings.Join(groups, " # ")
}
