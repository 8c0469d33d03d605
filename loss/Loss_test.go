package loss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func evalLoss(t *testing.T, f Func, pred, target []float64) float64 {
	t.Helper()
	g := G.NewGraph()
	p := G.NewVector(g, tensor.Float64, G.WithShape(len(pred)),
		G.WithName("pred"),
		G.WithValue(tensor.New(tensor.WithBacking(pred))))
	y := G.NewVector(g, tensor.Float64, G.WithShape(len(target)),
		G.WithName("target"),
		G.WithValue(tensor.New(tensor.WithBacking(target))))

	cost, err := f(p, y)
	require.NoError(t, err)

	var out G.Value
	G.Read(cost, &out)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	return out.Data().(float64)
}

func TestMeanSquared(t *testing.T) {
	got := evalLoss(t, MeanSquared, []float64{1, 2, 3}, []float64{1, 0, 6})
	assert.InDelta(t, 13.0/3.0, got, 1e-9)
}

func TestByName(t *testing.T) {
	f, err := ByName(MSE)
	require.NoError(t, err)
	assert.NotNil(t, f)

	assert.True(t, Valid(Huber))
	assert.False(t, Valid("hinge"))
}

func TestMeanHuber(t *testing.T) {
	f, err := ByName(Huber)
	require.NoError(t, err)

	pred := []float64{0.5, 3, -2}
	target := []float64{0, 0, 0}

	// 0.5*0.25, 0.5 + (3 - 1), 0.5 + (2 - 1)
	want := (0.125 + 2.5 + 1.5) / 3
	assert.InDelta(t, want, evalLoss(t, f, pred, target), 1e-9)

	got, err := Compute(Huber, pred, target)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func TestCompute(t *testing.T) {
	got, err := Compute(MSE, []float64{1, 2, 3}, []float64{1, 0, 6})
	require.NoError(t, err)
	assert.InDelta(t, 13.0/3.0, got, 1e-9)

	_, err = Compute(MSE, []float64{1}, nil)
	assert.Error(t, err)

	got, err = Compute(MSE, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}
