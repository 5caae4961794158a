// Package dataprep turns a raw models.Frame into a numeric, gap-free
// models.Dataset and partitions it for training.
package dataprep

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-gota/gota/series"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

var (
	// ErrEmptyFrame is returned for nil frames or frames with no rows
	ErrEmptyFrame = errors.New("input frame is empty")
	// ErrMissingTarget is returned when the target column is absent
	ErrMissingTarget = errors.New("target column missing")
)

// TargetColumn is the regression target
const TargetColumn = "review_score"

// MaxCategories bounds the distinct values a categorical column may have
// before it is dropped instead of one-hot encoded
const MaxCategories = 20

// DroppedColumns are removed before any other processing
var DroppedColumns = []string{
	"order_approved_at",
	"order_delivered_carrier_date",
	"order_delivered_customer_date",
	"order_estimated_delivery_date",
	"order_purchase_timestamp",
	"customer_zip_code_prefix",
	"order_item_id",
}

// FeatureColumns are the serving features, in the order clients send them
var FeatureColumns = []string{
	"payment_sequential",
	"payment_installments",
	"payment_value",
	"price",
	"freight_value",
	"product_name_lenght",
	"product_description_lenght",
	"product_photos_qty",
	"product_weight_g",
	"product_length_cm",
	"product_height_cm",
	"product_width_cm",
}

// column is one surviving input column with its cleaned cells
type column struct {
	name    string
	numeric bool
	numbers []float64 // numeric only; NaN marks missing
	cells   []string  // categorical only; "" marks missing
}

// Clean drops the fixed column list, removes rows without a usable target,
// imputes gaps and encodes categoricals. Non-finite numbers count as
// missing. The input frame is not modified.
func Clean(frame *models.Frame) (*models.Dataset, error) {
	if frame == nil || frame.NumRows() == 0 || frame.NumCols() == 0 {
		return nil, ErrEmptyFrame
	}
	if !frame.HasColumn(TargetColumn) {
		return nil, fmt.Errorf("%w: %s", ErrMissingTarget, TargetColumn)
	}
	df := frame.DataFrame()

	// Keep only rows with a finite numeric target
	var keep []int
	var target []float64
	for i, v := range df.Col(TargetColumn).Float() {
		if !isFinite(v) {
			continue
		}
		keep = append(keep, i)
		target = append(target, v)
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: no rows with a numeric %s", ErrEmptyFrame, TargetColumn)
	}

	var drop []string
	for _, c := range DroppedColumns {
		if frame.HasColumn(c) {
			drop = append(drop, c)
		}
	}
	if len(drop) > 0 {
		df = df.Drop(drop)
	}
	if len(keep) < df.Nrow() {
		df = df.Subset(keep)
	}
	if err := df.Error(); err != nil {
		return nil, fmt.Errorf("failed to select rows: %w", err)
	}

	var featureNames []string
	var features [][]float64 // column-major while building
	for _, name := range df.Names() {
		if name == TargetColumn {
			continue
		}
		col := readColumn(df.Col(name))
		if col.numeric {
			imputeNumeric(col.numbers)
			featureNames = append(featureNames, name)
			features = append(features, col.numbers)
			continue
		}
		names, encoded, ok := oneHot(col)
		if !ok {
			continue
		}
		featureNames = append(featureNames, names...)
		features = append(features, encoded...)
	}

	x := make([][]float64, len(keep))
	for r := range x {
		row := make([]float64, len(features))
		for c := range features {
			row[c] = features[c][r]
		}
		x[r] = row
	}

	return &models.Dataset{
		FeatureNames: featureNames,
		X:            x,
		Y:            target,
		TargetName:   TargetColumn,
	}, nil
}

// readColumn treats Int and Float series as numeric and everything else
// as categorical. A column with no observed values is numeric.
func readColumn(s series.Series) column {
	col := column{name: s.Name}
	missing := s.IsNaN()
	switch {
	case s.Type() == series.Int, s.Type() == series.Float, allTrue(missing):
		col.numeric = true
		col.numbers = s.Float()
		for i, v := range col.numbers {
			if !isFinite(v) {
				col.numbers[i] = nan
			}
		}
		return col
	}

	col.cells = s.Records()
	for i, na := range missing {
		if na {
			col.cells[i] = ""
			continue
		}
		col.cells[i] = strings.TrimSpace(col.cells[i])
	}
	return col
}

func allTrue(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}

// imputeNumeric replaces NaN entries with the median of the observed values
func imputeNumeric(values []float64) {
	observed := make([]float64, 0, len(values))
	for _, v := range values {
		if !isNaN(v) {
			observed = append(observed, v)
		}
	}
	fill := Median(observed)
	for i, v := range values {
		if isNaN(v) {
			values[i] = fill
		}
	}
}

// Median returns the median of values, averaging the two middle elements
// for even counts. An empty slice yields 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return series.Floats(values).Median()
}

// oneHot imputes the mode and expands the column into indicator columns.
// ok is false when the column has too many categories to encode.
func oneHot(col column) ([]string, [][]float64, bool) {
	counts := make(map[string]int)
	for _, c := range col.cells {
		if c != "" {
			counts[c]++
		}
	}
	if len(counts) > MaxCategories {
		return nil, nil, false
	}

	mode := "unknown"
	if len(counts) > 0 {
		mode = modeOf(counts)
	} else {
		counts[mode] = 0
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Strings(values)

	position := make(map[string]int, len(values))
	names := make([]string, len(values))
	encoded := make([][]float64, len(values))
	for i, v := range values {
		position[v] = i
		names[i] = col.name + "_" + v
		encoded[i] = make([]float64, len(col.cells))
	}
	for r, c := range col.cells {
		if c == "" {
			c = mode
		}
		encoded[position[c]][r] = 1
	}
	return names, encoded, true
}

// modeOf returns the most frequent key, lowest lexicographically on ties
func modeOf(counts map[string]int) string {
	best := ""
	bestCount := -1
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}

// Preprocessor runs cleaning and splitting with logging
type Preprocessor struct {
	log logger.Logger
}

// NewPreprocessor creates a preprocessor; a nil logger discards output
func NewPreprocessor(log logger.Logger) *Preprocessor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Preprocessor{log: log}
}

// CleanAndSplit cleans frame and partitions it per cfg
func (p *Preprocessor) CleanAndSplit(frame *models.Frame, cfg models.TrainingConfig) (*models.Split, error) {
	if frame != nil {
		p.log.Info("Cleaning data", logger.Int("rows", frame.NumRows()), logger.Int("columns", frame.NumCols()))
	}

	dataset, err := Clean(frame)
	if err != nil {
		p.log.Error("Error in clean_data step", logger.Error(err))
		return nil, err
	}

	split, err := Split(dataset, cfg.TestSize, cfg.RandomSeed)
	if err != nil {
		p.log.Error("Error in clean_data step", logger.Error(err))
		return nil, err
	}

	p.log.Info("Successfully cleaned and split data",
		logger.Int("train_rows", len(split.XTrain)),
		logger.Int("test_rows", len(split.XTest)),
		logger.Int("features", len(split.FeatureNames)))
	return split, nil
}

// CleanAndSplit cleans and splits with a no-op logger
func CleanAndSplit(frame *models.Frame, cfg models.TrainingConfig) (*models.Split, error) {
	return NewPreprocessor(nil).CleanAndSplit(frame, cfg)
}
