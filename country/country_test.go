package country

import (
	"context"
	"testing"
)

func TestDefaultAllowList(t *testing.T) {
	c := NewChecker()
	cases := []struct {
		phone string
		want  bool
	}{
		{"+48123456789", true},  // Poland
		{"+905551234567", true}, // Turkey
		{"+491701234567", true}, // Germany
		{"+15551234567", false},
		{"+447911123456", false},
		{"", false},
	}
	for _, tc := range cases {
		got, err := c.Supported(context.Background(), tc.phone)
		if err != nil {
			t.Fatalf("Supported(%q): %v", tc.phone, err)
		}
		if got != tc.want {
			t.Errorf("Supported(%q) = %v, want %v", tc.phone, got, tc.want)
		}
	}
}

func TestLongestPrefixWins(t *testing.T) {
	c := NewChecker().WithDialCodes([]string{"+1", "+1868"})
	if got := c.DialCode("+18685551234"); got != "+1868" {
		t.Errorf("DialCode = %q, want +1868", got)
	}
	if got := c.DialCode("+15551234567"); got != "+1" {
		t.Errorf("DialCode = %q, want +1", got)
	}
}
