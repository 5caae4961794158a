// Package ingest loads the raw order/customer table from disk.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

var (
	// ErrDataNotFound is returned when the data file does not exist
	ErrDataNotFound = errors.New("data file not found")
	// ErrEmptyData is returned when the file holds no data rows
	ErrEmptyData = errors.New("data file is empty")
)

const utf8BOM = "\ufeff"

// MissingValues are the raw cells loaded as missing
var MissingValues = []string{"", "NA", "NaN", "nan", "null", "NULL", "None"}

func loadOptions() []dataframe.LoadOption {
	return []dataframe.LoadOption{
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(MissingValues),
	}
}

// Loader reads a CSV file into a models.Frame
type Loader struct {
	log logger.Logger
}

// NewLoader creates a loader; a nil logger discards output
func NewLoader(log logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{log: log}
}

// LoadCSV reads the file at path. The first record is the header.
func (l *Loader) LoadCSV(path string) (*models.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Error("Data file not found", logger.String("path", path))
			return nil, fmt.Errorf("%w: %s", ErrDataNotFound, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	frame, err := Read(f)
	if err != nil {
		l.log.Error("Failed to ingest data", logger.String("path", path), logger.Error(err))
		if errors.Is(err, ErrEmptyData) {
			return nil, fmt.Errorf("%w: %s", ErrEmptyData, path)
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	l.log.Info("Ingested data",
		logger.String("path", path),
		logger.Int("rows", frame.NumRows()),
		logger.Int("columns", frame.NumCols()))
	return frame, nil
}

// Read parses CSV from r. Every record must have the header's field count.
func Read(r io.Reader) (*models.Frame, error) {
	return newFrame(dataframe.ReadCSV(r, loadOptions()...))
}

// FromRecords builds a frame from in-memory records; the first one is the header
func FromRecords(records [][]string) (*models.Frame, error) {
	return newFrame(dataframe.LoadRecords(records, loadOptions()...))
}

func newFrame(df dataframe.DataFrame) (*models.Frame, error) {
	if err := df.Error(); err != nil {
		// gota reports a missing header or zero data rows this way
		if strings.Contains(err.Error(), "empty DataFrame") {
			return nil, ErrEmptyData
		}
		return nil, err
	}

	names := df.Names()
	names[0] = strings.TrimPrefix(names[0], utf8BOM)
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	if err := df.SetNames(names...); err != nil {
		return nil, err
	}
	return models.NewFrame(df), nil
}

// LoadCSV reads path with a no-op logger
func LoadCSV(path string) (*models.Frame, error) {
	return NewLoader(nil).LoadCSV(path)
}

// Fingerprint returns the hex SHA-256 digest of the file contents
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrDataNotFound, path)
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
