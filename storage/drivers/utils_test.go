package drivers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreeLUN(t *testing.T) {
	tests := []struct {
		used []int
		want int
	}{
		{nil, 1},
		{[]int{0}, 1},
		{[]int{1, 2}, 3},
		{[]int{2}, 1},
		{[]int{1, 3}, 2},
		{[]int{0, 1, 2, 3, 4}, 5},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, freeLUN(test.used), fmt.Sprintf("used %v", test.used))
	}
}

func TestWWPNFormat(t *testing.T) {
	assert.Equal(t, "10:00:00:90:fa:0d:67:54", colonizeWWPN("10000090FA0D6754"))
	assert.Equal(t, "10:00:00:90:fa:0d:67:54", colonizeWWPN("10:00:00:90:FA:0D:67:54"))
	assert.Equal(t, "10000090fa0d6754", compactWWPN("10:00:00:90:FA:0D:67:54"))
}
