package models

import (
	"fmt"

	"github.com/go-gota/gota/dataframe"
)

// Frame holds raw tabular data as loaded from CSV. Column types are the
// ones the dataframe detected; the cleaning step decides how to encode them.
type Frame struct {
	df dataframe.DataFrame
}

// NewFrame wraps a loaded dataframe
func NewFrame(df dataframe.DataFrame) *Frame {
	return &Frame{df: df}
}

// DataFrame returns the underlying dataframe
func (f *Frame) DataFrame() dataframe.DataFrame {
	return f.df
}

// NumRows returns the number of data rows (header excluded)
func (f *Frame) NumRows() int {
	if f == nil {
		return 0
	}
	return f.df.Nrow()
}

// NumCols returns the number of columns
func (f *Frame) NumCols() int {
	if f == nil {
		return 0
	}
	return f.df.Ncol()
}

// Columns returns the column names in file order
func (f *Frame) Columns() []string {
	return f.df.Names()
}

// HasColumn reports whether the frame carries the named column
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.df.Names() {
		if c == name {
			return true
		}
	}
	return false
}

// Head returns a frame with the first n rows. n <= 0 or n past the end
// keeps every row.
func (f *Frame) Head(n int) *Frame {
	rows := f.df.Nrow()
	if n <= 0 || n >= rows {
		return f
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return &Frame{df: f.df.Subset(idx)}
}

// Dataset is the cleaned, fully numeric form of a Frame
type Dataset struct {
	FeatureNames []string    `json:"feature_names"`
	X            [][]float64 `json:"x"`
	Y            []float64   `json:"y"`
	TargetName   string      `json:"target_name"`
}

// NumRows returns the number of samples
func (d *Dataset) NumRows() int {
	if d == nil {
		return 0
	}
	return len(d.X)
}

// Split is the 4-way train/test partition of a Dataset
type Split struct {
	FeatureNames []string    `json:"feature_names"`
	XTrain       [][]float64 `json:"x_train"`
	XTest        [][]float64 `json:"x_test"`
	YTrain       []float64   `json:"y_train"`
	YTest        []float64   `json:"y_test"`
}

// Validate checks that feature and target partitions line up
func (s *Split) Validate() error {
	if len(s.XTrain) != len(s.YTrain) {
		return fmt.Errorf("train partition mismatch: %d feature rows, %d targets", len(s.XTrain), len(s.YTrain))
	}
	if len(s.XTest) != len(s.YTest) {
		return fmt.Errorf("test partition mismatch: %d feature rows, %d targets", len(s.XTest), len(s.YTest))
	}
	if len(s.XTrain) == 0 {
		return fmt.Errorf("train partition is empty")
	}
	return nil
}

// Total returns train plus test row count
func (s *Split) Total() int {
	return len(s.XTrain) + len(s.XTest)
}
