package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDBN(seed uint64) *DBN {
	return NewDBN(DBNConfig{
		Optimizer: OptimizerConfig{Type: OptAdam, LearningRate: 0.05},
		Rand:      newRand(seed),
		Logger:    quietLogger(),
	}, 6, 4, 2)
}

func TestDBNFinetuneRequiresPretrain(t *testing.T) {
	dbn := newTestDBN(80)
	_, err := dbn.Finetune(oneHotRows(2, 0, 1), 10)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDBNPretrainBottomUp(t *testing.T) {
	dbn := newTestDBN(81)
	data := barPatterns(8)

	reports := dbn.Pretrain(data, 50)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, 50, r.Epochs)
	}
	require.Len(t, dbn.Stages(), 2)
	assert.Equal(t, 6, dbn.Stages()[0].(*RBM).Visible())
	assert.Equal(t, 2, dbn.Stages()[1].(*RBM).Hidden())
	assert.Equal(t, [2]int{8, 2}, [2]int{dbn.features.Rows(), dbn.features.Cols()})

	_, err := dbn.Finetune(oneHotRows(2, 0, 1), 10)
	require.ErrorIs(t, err, ErrDimension)
	_, err = dbn.Finetune(NewMatrix(8, 3), 10)
	require.ErrorIs(t, err, ErrDimension)
}

func TestDBNFinetune(t *testing.T) {
	dbn := newTestDBN(82)
	data := barPatterns(8)
	labels := make([]int, 8)
	for i := range labels {
		labels[i] = i % 2
	}
	expected := oneHotRows(2, labels...)

	dbn.Pretrain(data, 100)
	first, err := dbn.Finetune(expected, 1)
	require.NoError(t, err)
	last, err := dbn.Finetune(expected, 300)
	require.NoError(t, err)
	assert.Less(t, last, first)

	out := dbn.Forward(data)
	assert.Equal(t, [2]int{8, 2}, [2]int{out.Rows(), out.Cols()})
	for _, s := range out.SumRows().RawData() {
		assert.InDelta(t, 1.0, s, 1e-12)
	}
	class, p := dbn.Predict(data.Row(0))
	assert.GreaterOrEqual(t, class, 0)
	assert.GreaterOrEqual(t, p, 0.5)
}

func TestDBNSaveLoad(t *testing.T) {
	src := newTestDBN(83)
	src.Pretrain(barPatterns(4), 10)
	dst := newTestDBN(84)

	s := NewStream(SystemEndian())
	require.NoError(t, src.Save(s))
	require.NoError(t, dst.Load(s))
	assert.Equal(t, 0, s.Len())

	x := barPatterns(2)
	requireMatrixNear(t, src.Forward(x), dst.Forward(x), 0)
}

func TestNewDBNNeedsTwoSizes(t *testing.T) {
	assert.Panics(t, func() { NewDBN(DBNConfig{}, 4) })
}
