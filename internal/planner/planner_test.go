package planner

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"cifleet/internal/apperr"
)

func table() *CostTable {
	return &CostTable{
		Unit: map[string][]float64{
			"gle_basic":   {30},
			"gle_udf":     {20, 22},
			"gui_login":   {15},
			"gui_graph":   {12},
			"core_engine": {25},
			"core_disk":   {5},
		},
		Integration: map[string]map[string][]float64{
			"shell": {"regress10": {40}, "regress11": {10}},
			"gap":   {"3": {7}},
		},
	}
}

func collect(buckets []Bucket) (units, its []string) {
	for _, b := range buckets {
		units = append(units, b.UnitTests...)
		for _, t := range b.Integrations {
			its = append(its, t.String())
		}
	}
	sort.Strings(units)
	sort.Strings(its)
	return units, its
}

func TestPlan_Basic(t *testing.T) {
	req := Request{
		UnitTests: []string{"gle_basic", "gle_udf", "core_engine", "core_disk"},
		Integrations: []IntegrationTest{
			{Type: "shell", Num: "10"},
			{Type: "shell", Num: "11"},
			{Type: "gap", Num: "3"},
		},
		Machines: 2,
		OSLabels: []string{"ubuntu18", "centos7"},
	}

	buckets, err := Plan(req, table())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}

	// Units: 30, 25, 21, 5 -> [30, 5]=35 and [25, 21]=46 (gle_udf mean 21).
	// Integrations: 40 -> bucket 0 (35 -> 75), 10 -> bucket 1 (56), 7 -> bucket 1 (63).
	if got := buckets[0].UnitTests; strings.Join(got, ",") != "gle_basic,core_disk" {
		t.Errorf("bucket 0 unit tests = %v", got)
	}
	if got := buckets[1].UnitTests; strings.Join(got, ",") != "core_engine,gle_udf" {
		t.Errorf("bucket 1 unit tests = %v", got)
	}
	if buckets[0].Cost != 75 || buckets[1].Cost != 63 {
		t.Errorf("unexpected costs %v / %v", buckets[0].Cost, buckets[1].Cost)
	}
	if buckets[0].OS != "ubuntu18" || buckets[1].OS != "centos7" {
		t.Errorf("unexpected OS assignment %s / %s", buckets[0].OS, buckets[1].OS)
	}
}

func TestPlan_DefaultCost(t *testing.T) {
	buckets, err := Plan(Request{
		UnitTests: []string{"unknown_a", "unknown_b", "unknown_c"},
		Machines:  3,
		OSLabels:  []string{"ubuntu18"},
	}, &CostTable{})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	for i, b := range buckets {
		if b.Cost != DefaultCost || len(b.UnitTests) != 1 {
			t.Errorf("bucket %d: expected one test at default cost, got %+v", i, b)
		}
	}
}

func TestPlan_FewerTestsThanMachines(t *testing.T) {
	buckets, err := Plan(Request{
		UnitTests: []string{"gle_basic"},
		Machines:  4,
		OSLabels:  []string{"ubuntu18", "centos7"},
	}, table())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	empty := 0
	for _, b := range buckets {
		if b.Empty() {
			empty++
		}
	}
	if empty != 3 {
		t.Errorf("expected 3 empty buckets, got %d", empty)
	}
	if buckets[2].OS != "ubuntu18" || buckets[3].OS != "centos7" {
		t.Errorf("expected round-robin OS labels, got %s %s", buckets[2].OS, buckets[3].OS)
	}
}

func TestPlan_SpecialTestsAvoidIncompatibleOS(t *testing.T) {
	req := Request{
		UnitTests: []string{"gui_login", "gui_graph", "gle_basic", "core_engine", "core_disk"},
		Machines:  4,
		OSLabels:  []string{"centos6", "ubuntu18", "k8s-centos7", "centos7"},
		Special:   []string{"gui"},
	}

	buckets, err := Plan(req, table())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	for i, b := range buckets {
		for _, ut := range b.UnitTests {
			if strings.HasPrefix(ut, "gui_") && !Compatible(b.OS) {
				t.Errorf("bucket %d (%s) got special test %s", i, b.OS, ut)
			}
		}
	}

	units, _ := collect(buckets)
	want := append([]string(nil), req.UnitTests...)
	sort.Strings(want)
	if strings.Join(units, ",") != strings.Join(want, ",") {
		t.Errorf("tests lost or duplicated: got %v, want %v", units, want)
	}
}

func TestPlan_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"zero machines", Request{UnitTests: []string{"a"}, Machines: 0, OSLabels: []string{"ubuntu18"}}},
		{"no os labels", Request{UnitTests: []string{"a"}, Machines: 1}},
		{"blank unit test", Request{UnitTests: []string{" "}, Machines: 1, OSLabels: []string{"ubuntu18"}}},
		{"duplicate unit test", Request{UnitTests: []string{"a", "a"}, Machines: 1, OSLabels: []string{"ubuntu18"}}},
		{"blank integration", Request{Integrations: []IntegrationTest{{Type: "shell"}}, Machines: 1, OSLabels: []string{"ubuntu18"}}},
		{"special without compatible os", Request{
			UnitTests: []string{"gui_login"},
			Machines:  2,
			OSLabels:  []string{"centos6", "k8s-ubuntu"},
			Special:   []string{"gui"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets, err := Plan(tt.req, table())
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(buckets) != 0 {
				t.Errorf("expected zero buckets, got %d", len(buckets))
			}
		})
	}
}

// Every test lands in exactly one bucket and the largest bucket stays within
// the list-scheduling bound total/N + max(cost).
func TestPlan_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		costs := &CostTable{Unit: map[string][]float64{}, Integration: map[string]map[string][]float64{"shell": {}}}
		req := Request{
			Machines: 1 + rng.Intn(6),
			OSLabels: []string{"ubuntu18", "centos7", "centos8"},
		}

		var total, maxCost float64
		nUnits, nIntegrations := rng.Intn(30), rng.Intn(20)
		for i := 0; i < nUnits; i++ {
			name := fmt.Sprintf("ut_%d", i)
			cost := float64(1 + rng.Intn(60))
			costs.Unit[name] = []float64{cost}
			req.UnitTests = append(req.UnitTests, name)
			total += cost
			maxCost = max(maxCost, cost)
		}
		for i := 0; i < nIntegrations; i++ {
			num := fmt.Sprint(i)
			cost := float64(1 + rng.Intn(90))
			costs.Integration["shell"]["regress"+num] = []float64{cost}
			req.Integrations = append(req.Integrations, IntegrationTest{Type: "shell", Num: num})
			total += cost
			maxCost = max(maxCost, cost)
		}

		buckets, err := Plan(req, costs)
		if err != nil {
			t.Fatalf("round %d: Plan failed: %v", round, err)
		}
		if len(buckets) != req.Machines {
			t.Fatalf("round %d: expected %d buckets, got %d", round, req.Machines, len(buckets))
		}

		units, its := collect(buckets)
		if len(units) != len(req.UnitTests) || len(its) != len(req.Integrations) {
			t.Fatalf("round %d: test count changed: %d/%d units, %d/%d integrations",
				round, len(units), len(req.UnitTests), len(its), len(req.Integrations))
		}
		for i := 1; i < len(units); i++ {
			if units[i] == units[i-1] {
				t.Fatalf("round %d: unit test %s duplicated", round, units[i])
			}
		}

		bound := total/float64(req.Machines) + maxCost
		for i, b := range buckets {
			if b.Cost > bound+1e-9 {
				t.Errorf("round %d: bucket %d cost %v exceeds bound %v", round, i, b.Cost, bound)
			}
		}
	}
}

func TestParseIntegrations(t *testing.T) {
	tests := []struct {
		spec    string
		want    string
		wantErr bool
	}{
		{"none", "", false},
		{"", "", false},
		{"shell: 10 11 ; gap: 3", "shell 10,shell 11,gap 3", false},
		{"shell: 10;", "shell 10", false},
		{"shell 10", "", true},
		{"shell:", "", true},
		{": 10", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseIntegrations(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			names := make([]string, len(got))
			for i, g := range got {
				names[i] = g.String()
			}
			if strings.Join(names, ",") != tt.want {
				t.Errorf("got %v, want %s", names, tt.want)
			}
		})
	}
}

func TestParseUnitTests(t *testing.T) {
	if got := ParseUnitTests(" none "); got != nil {
		t.Errorf("expected nil for none, got %v", got)
	}
	if got := ParseUnitTests("a  b\tc"); len(got) != 3 {
		t.Errorf("expected 3 tests, got %v", got)
	}
}

func TestFormat(t *testing.T) {
	buckets := []Bucket{
		{OS: "ubuntu18", UnitTests: []string{"gle_basic", "core_disk"}, Integrations: []IntegrationTest{
			{Type: "shell", Num: "10"}, {Type: "gap", Num: "3"}, {Type: "shell", Num: "11"},
		}},
		{OS: "centos7"},
	}

	want := "ubuntu18 $$$ gle_basic core_disk $$$ shell: 10 11 ; gap: 3 ; # centos7 $$$ none $$$ none"
	if got := Format(buckets); got != want {
		t.Errorf("Format() =\n%q\nwant\n%q", got, want)
	}
}

func TestLoadCostTable(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "costs.json")
	content := `{"unittests": {"gle_basic": [10, 11]}, "integrations": {"shell": {"regress10": [40]}, "gap": {"3": [7, 8]}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadCostTable(path)
	if err != nil {
		t.Fatalf("LoadCostTable failed: %v", err)
	}

	if c, ok := table.UnitCost("gle_basic"); !ok || c != 10.5 {
		t.Errorf("UnitCost = %v, %v", c, ok)
	}
	if c, ok := table.IntegrationCost(IntegrationTest{Type: "gap", Num: "3"}); !ok || c != 7.5 {
		t.Errorf("IntegrationCost(gap 3) = %v, %v", c, ok)
	}
	if c, ok := table.IntegrationCost(IntegrationTest{Type: "shell", Num: "10"}); !ok || c != 40 {
		t.Errorf("IntegrationCost(shell 10) = %v, %v", c, ok)
	}
	if _, ok := table.UnitCost("missing"); ok {
		t.Error("expected missing unit test to have no cost")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("unittests:\n  a: [-3]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCostTable(bad); err == nil {
		t.Error("expected error for negative sample")
	}

	missing, err := LoadCostTable(filepath.Join(dir, "nope.json"))
	if err != nil || len(missing.Unit) != 0 {
		t.Errorf("expected empty table for missing file, got %v, %v", missing, err)
	}
}
