package dataprep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

func linearDataset(n int) *models.Dataset {
	d := &models.Dataset{FeatureNames: []string{"x"}, TargetName: "y"}
	for i := 0; i < n; i++ {
		d.X = append(d.X, []float64{float64(i)})
		d.Y = append(d.Y, float64(2*i))
	}
	return d
}

func TestSplitSizes(t *testing.T) {
	tests := []struct {
		n, wantTest int
		testSize    float64
	}{
		{100, 20, 0.2},
		{11, 3, 0.2},
		{2, 1, 0.2},
		{10, 9, 0.99},
	}
	for _, tt := range tests {
		split, err := Split(linearDataset(tt.n), tt.testSize, DefaultSeed)
		require.NoError(t, err)
		assert.Len(t, split.XTest, tt.wantTest)
		assert.Equal(t, tt.n, split.Total())
		assert.NotEmpty(t, split.XTrain)
	}
}

func TestSplitKeepsPairsAligned(t *testing.T) {
	split, err := Split(linearDataset(40), 0.25, 7)
	require.NoError(t, err)
	require.NoError(t, split.Validate())

	seen := map[float64]bool{}
	check := func(x [][]float64, y []float64) {
		for i := range x {
			assert.Equal(t, 2*x[i][0], y[i])
			seen[x[i][0]] = true
		}
	}
	check(split.XTrain, split.YTrain)
	check(split.XTest, split.YTest)
	assert.Len(t, seen, 40, "every row lands in exactly one partition")
}

func TestSplitDeterministic(t *testing.T) {
	a, err := Split(linearDataset(30), 0.2, DefaultSeed)
	require.NoError(t, err)
	b, err := Split(linearDataset(30), 0.2, DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, a.YTest, b.YTest)
}

func TestSplitErrors(t *testing.T) {
	_, err := Split(linearDataset(10), 0, DefaultSeed)
	assert.Error(t, err)
	_, err = Split(linearDataset(10), 1, DefaultSeed)
	assert.Error(t, err)
	_, err = Split(linearDataset(1), 0.2, DefaultSeed)
	assert.Error(t, err)
}

func TestExtractFeatures(t *testing.T) {
	frame := frameOf(t,
		[]string{"price", "review_score", "freight_value"},
		[]string{"10", "5", "1.5"},
		[]string{"", "4", "x"},
		[]string{"12", "3", "inf"},
	)

	rows, err := ExtractFeatures(frame, []string{"freight_value", "price", "absent"}, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1.5, rows[0][0])
	assert.Equal(t, 10.0, rows[0][1])
	assert.True(t, math.IsNaN(rows[0][2]))
	assert.True(t, math.IsNaN(rows[1][0]))
	assert.True(t, math.IsNaN(rows[1][1]))

	all, err := ExtractFeatures(frame, []string{"freight_value"}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3, "a non-positive limit reads every row")
	assert.True(t, math.IsNaN(all[2][0]), "non-finite values are treated as missing")

	_, err = ExtractFeatures(nil, FeatureColumns, 0)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}
