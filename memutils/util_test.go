package memutils

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	testCases := map[string]struct {
		Value     int
		Alignment int
		Expected  int
	}{
		"Already Aligned":   {Value: 112, Alignment: 16, Expected: 112},
		"Round Up":          {Value: 100, Alignment: 16, Expected: 112},
		"Alignment One":     {Value: 37, Alignment: 1, Expected: 37},
		"Zero":              {Value: 0, Alignment: 256, Expected: 0},
		"One Below":         {Value: 255, Alignment: 256, Expected: 256},
		"One Above":         {Value: 257, Alignment: 256, Expected: 512},
		"Large Granularity": {Value: 3, Alignment: 65536, Expected: 65536},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.Expected, AlignUp(testCase.Value, testCase.Alignment))
		})
	}
}

func TestAlignUpIdempotent(t *testing.T) {
	for shift := 0; shift < 12; shift++ {
		alignment := 1 << shift
		for value := 0; value < 3000; value += 7 {
			aligned := AlignUp(value, alignment)

			require.Equal(t, aligned, AlignUp(aligned, alignment))
			require.GreaterOrEqual(t, aligned, value)
			require.Less(t, aligned-value, alignment)
			require.Zero(t, aligned%alignment)
			require.True(t, IsAligned(aligned, alignment))
		}
	}
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 96, AlignDown(100, 16))
	require.Equal(t, 112, AlignDown(112, 16))
	require.Equal(t, uint(0), AlignDown(uint(63), uint(64)))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "one"))
	require.NoError(t, CheckPow2(4096, "page"))
	require.NoError(t, CheckPow2(uint32(1<<31), "high bit"))

	err := CheckPow2(48, "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 48")

	require.True(t, errors.Is(CheckPow2(0, "zero"), PowerOfTwoError))
	require.True(t, errors.Is(CheckPow2(-8, "negative"), PowerOfTwoError))
}
