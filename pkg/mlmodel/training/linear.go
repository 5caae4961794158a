package training

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

var linearDefaults = map[string]float64{
	"fit_intercept": 1,
}

// LinearRegression is ordinary least squares solved by QR decomposition
type LinearRegression struct {
	params map[string]float64

	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

func newLinearRegression(params map[string]float64) *LinearRegression {
	return &LinearRegression{params: params}
}

// Type returns models.ModelTypeLinearRegression
func (r *LinearRegression) Type() models.ModelType { return models.ModelTypeLinearRegression }

// Params returns the resolved hyperparameters
func (r *LinearRegression) Params() map[string]float64 { return copyParams(r.params) }

// Fit solves min ||Aβ - y||². Rank-deficient designs (for example a full
// set of one-hot columns next to the intercept) fall back to a lightly
// regularised normal-equation solve.
func (r *LinearRegression) Fit(x [][]float64, y []float64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	intercept := r.params["fit_intercept"] != 0

	n, p := len(x), len(x[0])
	cols := p
	if intercept {
		cols++
	}

	a := mat.NewDense(n, cols, nil)
	for i, row := range x {
		offset := 0
		if intercept {
			a.Set(i, 0, 1)
			offset = 1
		}
		for j, v := range row {
			a.Set(i, j+offset, v)
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var beta mat.VecDense
	if n < cols || beta.SolveVec(a, b) != nil {
		if err := ridgeSolve(&beta, a, b); err != nil {
			return fmt.Errorf("failed to solve least squares: %w", err)
		}
	}

	coef := make([]float64, p)
	offset := 0
	r.Intercept = 0
	if intercept {
		r.Intercept = beta.AtVec(0)
		offset = 1
	}
	for j := range coef {
		coef[j] = beta.AtVec(j + offset)
	}
	r.Coefficients = coef
	return nil
}

// ridgeSolve solves (AᵀA + εI)β = Aᵀb with ε scaled to the design
func ridgeSolve(dst *mat.VecDense, a *mat.Dense, b *mat.VecDense) error {
	_, cols := a.Dims()

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	trace := mat.Trace(&ata)
	eps := 1e-8 * (1 + trace/float64(cols))
	for i := 0; i < cols; i++ {
		ata.Set(i, i, ata.At(i, i)+eps)
	}

	err := dst.SolveVec(&ata, &atb)
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return err
	}
	return nil
}

// Predict returns Xβ + intercept
func (r *LinearRegression) Predict(x [][]float64) ([]float64, error) {
	if r.Coefficients == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(r.Coefficients) {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), len(r.Coefficients))
		}
		v := r.Intercept
		for j, c := range r.Coefficients {
			v += c * row[j]
		}
		out[i] = v
	}
	return out, nil
}
