package news

import (
	"strings"
	"testing"
)

func TestReadTime(t *testing.T) {
	cases := []struct {
		words int
		want  int
	}{
		{0, 1},
		{1, 1},
		{199, 1},
		{200, 1},
		{201, 2},
		{1000, 5},
	}
	for _, tc := range cases {
		content := strings.TrimSpace(strings.Repeat("word ", tc.words))
		if got := ReadTime(content); got != tc.want {
			t.Errorf("ReadTime(%d words) = %d, want %d", tc.words, got, tc.want)
		}
	}
}
