package dataprep

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

var nan = math.NaN()

func isNaN(v float64) bool { return v != v }

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// DefaultTestSize and DefaultSeed are the partition defaults
const (
	DefaultTestSize = 0.2
	DefaultSeed     = 42
)

// Split shuffles the dataset with a seeded generator and holds out
// ceil(n*testSize) rows for testing. The same seed always yields the
// same partition.
func Split(dataset *models.Dataset, testSize float64, seed int64) (*models.Split, error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}
	n := dataset.NumRows()
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 rows to split, got %d", n)
	}

	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest >= n {
		nTest = n - 1
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)

	split := &models.Split{
		FeatureNames: append([]string(nil), dataset.FeatureNames...),
		XTest:        make([][]float64, 0, nTest),
		YTest:        make([]float64, 0, nTest),
		XTrain:       make([][]float64, 0, n-nTest),
		YTrain:       make([]float64, 0, n-nTest),
	}
	for i, idx := range perm {
		if i < nTest {
			split.XTest = append(split.XTest, dataset.X[idx])
			split.YTest = append(split.YTest, dataset.Y[idx])
		} else {
			split.XTrain = append(split.XTrain, dataset.X[idx])
			split.YTrain = append(split.YTrain, dataset.Y[idx])
		}
	}
	return split, nil
}

// ExtractFeatures reads the named columns from the first limit rows of a
// frame as floats. Absent columns, unparsable cells and non-finite numbers
// become NaN so the model can substitute its training defaults. limit <= 0
// reads all rows.
func ExtractFeatures(frame *models.Frame, columns []string, limit int) ([][]float64, error) {
	if frame == nil || frame.NumRows() == 0 {
		return nil, ErrEmptyFrame
	}
	head := frame.Head(limit)
	df := head.DataFrame()

	values := make([][]float64, len(columns))
	for j, c := range columns {
		if head.HasColumn(c) {
			values[j] = df.Col(c).Float()
		}
	}

	out := make([][]float64, head.NumRows())
	for r := range out {
		vals := make([]float64, len(columns))
		for j := range columns {
			vals[j] = nan
			if values[j] != nil && isFinite(values[j][r]) {
				vals[j] = values[j][r]
			}
		}
		out[r] = vals
	}
	return out, nil
}
