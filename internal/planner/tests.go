package planner

import (
	"strings"

	"cifleet/internal/apperr"
)

// IntegrationTest is one numbered case of an integration suite, e.g. "shell 10".
type IntegrationTest struct {
	Type string `json:"type"`
	Num  string `json:"num"`
}

// noRegressPrefix lists suites whose history is keyed by the bare number.
var noRegressPrefix = map[string]bool{"gap": true, "gst": true, "gus": true}

// HistoryKey is the name the case is recorded under in the cost table.
func (t IntegrationTest) HistoryKey() string {
	if noRegressPrefix[t.Type] {
		return t.Num
	}
	return "regress" + t.Num
}

func (t IntegrationTest) String() string {
	return t.Type + " " + t.Num
}

// ParseUnitTests splits a whitespace separated unit test list. "none" and
// the empty string select nothing.
func ParseUnitTests(spec string) []string {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "none" {
		return nil
	}
	return strings.Fields(spec)
}

// ParseIntegrations parses "type: n n ; type2: n". "none" and the empty
// string select nothing.
func ParseIntegrations(spec string) ([]IntegrationTest, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "none" {
		return nil, nil
	}

	var tests []IntegrationTest
	for _, group := range strings.Split(spec, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		typ, nums, ok := strings.Cut(group, ":")
		typ = strings.TrimSpace(typ)
		if !ok || typ == "" || strings.ContainsAny(typ, " \t") {
			return nil, apperr.Validation("malformed integration group %q", group)
		}
		fields := strings.Fields(nums)
		if len(fields) == 0 {
			return nil, apperr.Validation("integration group %q selects no tests", typ)
		}
		for _, n := range fields {
			tests = append(tests, IntegrationTest{Type: typ, Num: n})
		}
	}
	return tests, nil
}
