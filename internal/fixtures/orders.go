// Package fixtures builds synthetic order/customer CSV files for tests.
package fixtures

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// Columns is the header of generated files: the serving features, a few
// columns the cleaner drops, one categorical and the target.
var Columns = []string{
	"order_id",
	"customer_zip_code_prefix",
	"order_purchase_timestamp",
	"payment_type",
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
	"review_score",
}

// WriteOrdersCSV writes n synthetic rows to dir/olist_customers_dataset.csv
// and returns the path. The review score depends on freight and installments
// so models have signal to learn.
func WriteOrdersCSV(t testing.TB, dir string, n int, seed int64) string {
	t.Helper()
	path := filepath.Join(dir, "olist_customers_dataset.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(seed))
	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		t.Fatalf("write fixture header: %v", err)
	}

	payment := []string{"credit_card", "boleto", "voucher", "debit_card"}
	for i := 0; i < n; i++ {
		installments := rng.Intn(10) + 1
		freight := rng.Float64() * 50
		price := 20 + rng.Float64()*200
		score := 5 - freight/15 - float64(installments)/10 + rng.NormFloat64()*0.2
		if score < 1 {
			score = 1
		}

		photos := strconv.Itoa(rng.Intn(5) + 1)
		if i%17 == 0 {
			photos = ""
		}

		row := []string{
			fmt.Sprintf("order-%d", i),
			strconv.Itoa(10000 + rng.Intn(80000)),
			"2018-01-01 10:00:00",
			payment[rng.Intn(len(payment))],
			"1",
			strconv.Itoa(installments),
			fmt.Sprintf("%.2f", price+freight),
			fmt.Sprintf("%.2f", price),
			fmt.Sprintf("%.2f", freight),
			strconv.Itoa(20 + rng.Intn(40)),
			strconv.Itoa(100 + rng.Intn(900)),
			photos,
			strconv.Itoa(100 + rng.Intn(5000)),
			strconv.Itoa(10 + rng.Intn(40)),
			strconv.Itoa(5 + rng.Intn(30)),
			strconv.Itoa(10 + rng.Intn(30)),
			fmt.Sprintf("%.0f", score),
		}
		if err := w.Write(row); err != nil {
			t.Fatalf("write fixture row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("flush fixture: %v", err)
	}
	return path
}
