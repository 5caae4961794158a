package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCSVNotFound(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataNotFound)
	assert.Contains(t, err.Error(), "missing.csv")
}

func TestLoadCSVEmpty(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no header", ""},
		{"header only", "price,review_score\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCSV(writeFile(t, tt.body))
			assert.ErrorIs(t, err, ErrEmptyData)
		})
	}
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "\ufeffprice, review_score\n10.5,5\n3,4\n")

	frame, err := LoadCSV(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"price", "review_score"}, frame.Columns())
	assert.Equal(t, 2, frame.NumRows())
	df := frame.DataFrame()
	assert.Equal(t, []float64{10.5, 3}, df.Col("price").Float())
	assert.Equal(t, []float64{5, 4}, df.Col("review_score").Float())
}

func TestFromRecordsDetectsTypesAndMissing(t *testing.T) {
	frame, err := FromRecords([][]string{
		{"price", "payment_type", "review_score"},
		{"10.5", "boleto", "5"},
		{"NA", "", "4"},
		{"3", "voucher", "null"},
	})
	require.NoError(t, err)

	df := frame.DataFrame()
	assert.Equal(t, []series.Type{series.Float, series.String, series.Int}, df.Types())
	assert.Equal(t, []bool{false, true, false}, df.Col("price").IsNaN())
	assert.Equal(t, []bool{false, true, false}, df.Col("payment_type").IsNaN())
	assert.Equal(t, []bool{false, false, true}, df.Col("review_score").IsNaN())

	_, err = FromRecords([][]string{{"price"}})
	assert.ErrorIs(t, err, ErrEmptyData)
}

func TestReadRaggedRows(t *testing.T) {
	_, err := Read(strings.NewReader("a,b\n1,2\n3\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyData)
}

func TestFingerprint(t *testing.T) {
	a := writeFile(t, "a\n1\n")
	b := writeFile(t, "a\n2\n")

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fa2, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Len(t, fa, 64)
	assert.Equal(t, fa, fa2)
	assert.NotEqual(t, fa, fb)

	_, err = Fingerprint(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrDataNotFound)
}
