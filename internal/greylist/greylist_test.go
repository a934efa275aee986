package greylist

import "testing"

func TestSameAsLastScanEmptyRulesMatchedIsNeverARepeat(t *testing.T) {
	if SameAsLastScan([]string{"r1"}, nil) {
		t.Fatalf("expected an empty rulesMatched to never be considered a repeat")
	}
}

func TestSameAsLastScanDetectsIdenticalSetRegardlessOfOrder(t *testing.T) {
	if !SameAsLastScan([]string{"r1", "r2"}, []string{"r2", "r1"}) {
		t.Fatalf("expected identical rule sets to be detected regardless of order")
	}
}

func TestSameAsLastScanDetectsDifference(t *testing.T) {
	if SameAsLastScan([]string{"r1", "r2"}, []string{"r1", "r3"}) {
		t.Fatalf("expected differing rule sets to not match")
	}
	if SameAsLastScan([]string{"r1"}, []string{"r1", "r2"}) {
		t.Fatalf("expected differing set sizes to not match")
	}
}
