package batchrunner

import (
	"reflect"
	"strings"
	"testing"
)

func TestReadQueries(t *testing.T) {
	input := `
danone

# commented out
552 032 534
  total energies
`

	queries, err := readQueries(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readQueries failed: %v", err)
	}

	expected := []string{"danone", "552 032 534", "total energies"}
	if !reflect.DeepEqual(queries, expected) {
		t.Errorf("readQueries = %v, expected %v", queries, expected)
	}
}

func TestReadQueriesEmptyInput(t *testing.T) {
	queries, err := readQueries(strings.NewReader("\n\n# only comments\n"))
	if err != nil {
		t.Fatalf("readQueries failed: %v", err)
	}

	if len(queries) != 0 {
		t.Errorf("readQueries = %v, expected no queries", queries)
	}
}
