package fakework

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_AllKinds(t *testing.T) {
	cases := map[string]Kind{
		"sqrt":                   KindSqrt,
		"multiplication":         KindMultiplication,
		"stridedmem:1024:8":      KindStridedMem,
		"randmem:4096":           KindRandMem,
		"memstream:4096":         KindMemStream,
		"pointerchase:256:42":    KindPointerChase,
	}
	for s, want := range cases {
		spec, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, want, spec.Kind, s)
		require.Equal(t, s, spec.String(), s)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, s := range []string{"stridedmem:10", "randmem", "pointerchase:1", "bogus", "randmem:-1"} {
		_, err := Parse(s)
		require.Error(t, err, s)
	}
}

func TestRun_DeterministicForSameInputs(t *testing.T) {
	specs := []string{"sqrt", "multiplication", "stridedmem:256:3", "randmem:256", "memstream:256", "pointerchase:64:7"}
	for _, s := range specs {
		spec, err := Parse(s)
		require.NoError(t, err)
		a := Run(spec, 1000, 99)
		b := Run(spec, 1000, 99)
		require.Equal(t, a, b, s)
	}
}

func TestRun_DifferentRandomnessUsuallyDiffers(t *testing.T) {
	spec, err := Parse("multiplication")
	require.NoError(t, err)
	a := Run(spec, 100, 1)
	b := Run(spec, 100, 2)
	require.NotEqual(t, a, b)
}

func TestRun_MoreIterationsTakesLonger(t *testing.T) {
	spec, err := Parse("sqrt")
	require.NoError(t, err)
	start := time.Now()
	Run(spec, 2_000_000, 5)
	short := time.Since(start)

	start = time.Now()
	Run(spec, 20_000_000, 5)
	long := time.Since(start)

	require.Greater(t, long, short)
}

func TestCalibrate_FindsIterationsMeetingTarget(t *testing.T) {
	spec, err := Parse("multiplication")
	require.NoError(t, err)
	iters, measured := Calibrate(spec, int64(2*time.Millisecond))
	require.Greater(t, iters, uint64(0))
	require.GreaterOrEqual(t, measured, 2*time.Millisecond)
}
