package postgres

import (
	"strings"
	"testing"
)

func TestCompanySearchQueryBuild(t *testing.T) {
	tests := []struct {
		name      string
		term      string
		limit     int
		wantOK    bool
		wantArg   string
		wantLimit int
		bySiren   bool
	}{
		{
			name:      "name term is normalized",
			term:      "Société Générale",
			limit:     10,
			wantOK:    true,
			wantArg:   "SOCIETE GENERALE",
			wantLimit: 10,
		},
		{
			name:      "numeric term matches siren prefix",
			term:      "552 032",
			limit:     5,
			wantOK:    true,
			wantArg:   "552032",
			wantLimit: 5,
			bySiren:   true,
		},
		{
			name:      "full siren",
			term:      "552032534",
			limit:     1,
			wantOK:    true,
			wantArg:   "552032534",
			wantLimit: 1,
			bySiren:   true,
		},
		{
			name:      "zero limit falls back to default",
			term:      "carrefour",
			limit:     0,
			wantOK:    true,
			wantArg:   "CARREFOUR",
			wantLimit: defaultSearchLimit,
		},
		{
			name:   "blank term is rejected",
			term:   "   ",
			limit:  10,
			wantOK: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			query, args, ok := NewCompanySearchQuery(test.term, test.limit).Build()

			if ok != test.wantOK {
				t.Fatalf("Build() ok = %v, expected %v", ok, test.wantOK)
			}

			if !ok {
				return
			}

			if len(args) != 2 {
				t.Fatalf("Build() returned %d args, expected 2", len(args))
			}

			if args[0] != test.wantArg {
				t.Errorf("Build() arg[0] = %v, expected %v", args[0], test.wantArg)
			}

			if args[1] != test.wantLimit {
				t.Errorf("Build() arg[1] = %v, expected %v", args[1], test.wantLimit)
			}

			bySiren := strings.Contains(query, "siren LIKE")
			if bySiren != test.bySiren {
				t.Errorf("Build() query = %q, siren match = %v, expected %v", query, bySiren, test.bySiren)
			}
		})
	}
}

func TestIsDigits(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"552032534", true},
		{"552", true},
		{"", false},
		{"55a", false},
		{"carrefour", false},
	}

	for _, test := range tests {
		if result := isDigits(test.input); result != test.expected {
			t.Errorf("isDigits(%q) = %v, expected %v", test.input, result, test.expected)
		}
	}
}
