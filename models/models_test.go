package models

import "testing"

func TestMustStage(t *testing.T) {
	cases := []struct {
		kind MessageKind
		want bool
	}{
		{KindText, false},
		{KindImage, true},
		{KindFile, true},
	}

	for _, tc := range cases {
		if got := tc.kind.MustStage(); got != tc.want {
			t.Errorf("MustStage(%q) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}
