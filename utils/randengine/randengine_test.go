package randengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-roadflow/utils/randengine"
)

func TestNoiseBounded(t *testing.T) {
	e := randengine.New(42)
	for _i := 0; _i < 1000; _i++ {
		n := e.Noise(10)
		assert.LessOrEqual(t, n, 10.)
		assert.GreaterOrEqual(t, n, -10.)
	}
	assert.Equal(t, 0., e.Noise(0))
}

func TestSameSeedSameSequence(t *testing.T) {
	a, b := randengine.New(7), randengine.New(7)
	for _i := 0; _i < 10; _i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}
