package numparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/pkg/errors"
)

func TestParseCount_Accepts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
	}{
		{"3", 3},
		{"0", 0},
		{"1,204", 1204},
		{"193 533", 193533},
		{"193\u2009533", 193533},
		{"１２", 12},
		{"1.5 million", 1500000},
		{"3 thousand", 3000},
		{"40 k", 40000},
		{"three", 3},
		{"Twenty-one", 21},
		{"one hundred and five", 105},
		{"a dozen", 12},
		{"two thousand three hundred", 2300},
		{" 12 ", 12},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCount(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCount_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "05", "2.5", "cases", "12 34", "a", "k", "several", "1,20"} {
		in := in
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCount(in)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
		})
	}
}
