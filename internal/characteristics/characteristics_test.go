package characteristics

import "testing"

func TestParseComparator(t *testing.T) {
	cases := []struct {
		in      string
		op      string
		operand float64
		ok      bool
	}{
		{">3", ">", 3, true},
		{"<6", "<", 6, true},
		{">=2.5", ">=", 2.5, true},
		{"<= 10", "<=", 10, true},
		{"3", "", 0, false},
		{">abc", "", 0, false},
		{"senior", "", 0, false},
	}
	for _, tc := range cases {
		cmp, ok := ParseComparator(tc.in)
		if ok != tc.ok {
			t.Fatalf("ParseComparator(%q) ok=%v want %v", tc.in, ok, tc.ok)
		}
		if ok && (cmp.Op != tc.op || cmp.Operand != tc.operand) {
			t.Fatalf("ParseComparator(%q) = %+v", tc.in, cmp)
		}
	}
}

func TestMatchValueComparator(t *testing.T) {
	if score, ok := MatchValue(">2", 5); !ok || score != 1 {
		t.Fatalf("expected full credit, got score=%v ok=%v", score, ok)
	}
	if _, ok := MatchValue(">2", 1); ok {
		t.Fatalf("1 should not satisfy >2")
	}
	if _, ok := MatchValue(">2", "senior"); ok {
		t.Fatalf("non-numeric value should not satisfy a comparator")
	}
}

func TestMatchValueListOverlap(t *testing.T) {
	score, ok := MatchValue([]any{"qualify-lead", "close-deal"}, []string{"qualify-lead"})
	if !ok {
		t.Fatalf("expected partial overlap to match")
	}
	if score != 0.5 {
		t.Fatalf("score = %v, want 0.5", score)
	}
	if _, ok := MatchValue([]any{"a"}, []string{"b"}); ok {
		t.Fatalf("disjoint lists should not match")
	}
}

func TestMatchValueScalars(t *testing.T) {
	if score, ok := MatchValue("senior", "senior"); !ok || score != 1 {
		t.Fatalf("equal strings should fully match, got %v %v", score, ok)
	}
	if _, ok := MatchValue("senior", "junior"); ok {
		t.Fatalf("different strings should not match")
	}
	if _, ok := MatchValue(5, 5.0); !ok {
		t.Fatalf("numerically equal scalars should match across types")
	}
}

func TestMatchRequiresEveryKey(t *testing.T) {
	have := map[string]any{
		"capabilities":     []string{"qualify-lead"},
		"experience_years": 5,
	}
	score, ok := Match(map[string]any{"experience_years": ">2"}, have)
	if !ok || score != 1 {
		t.Fatalf("comparator filter failed: score=%v ok=%v", score, ok)
	}
	if _, ok := Match(map[string]any{"experience_years": ">2", "region": "emea"}, have); ok {
		t.Fatalf("missing key should fail the whole filter")
	}
	if score, ok := Match(nil, have); !ok || score != 0 {
		t.Fatalf("empty filter should match with zero score, got %v %v", score, ok)
	}
}

func TestMergeChildWins(t *testing.T) {
	parent := map[string]any{"type": "person", "experience_years": 2}
	child := map[string]any{"experience_years": 7}
	merged := Merge(parent, child)
	if merged["type"] != "person" {
		t.Fatalf("parent key lost: %v", merged)
	}
	if merged["experience_years"] != 7 {
		t.Fatalf("child should override parent, got %v", merged["experience_years"])
	}
	if parent["experience_years"] != 2 {
		t.Fatalf("merge mutated parent")
	}
}
