package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/dataprep"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

const predictionFailedMessage = "Prediction failed. Check the inputs and make sure a trained model is available."

// formField is one input of the prediction form
type formField struct {
	Name   string
	Label  string
	Slider bool
	Value  string
}

var fieldLabels = map[string]string{
	"payment_sequential":         "Payment Sequential",
	"payment_installments":       "Payment Installments",
	"payment_value":              "Payment Value",
	"price":                      "Price",
	"freight_value":              "Freight Value",
	"product_name_lenght":        "Product Name Length",
	"product_description_lenght": "Product Description Length",
	"product_photos_qty":         "Product Photos Quantity",
	"product_weight_g":           "Product Weight (g)",
	"product_length_cm":          "Product Length (cm)",
	"product_height_cm":          "Product Height (cm)",
	"product_width_cm":           "Product Width (cm)",
}

var sliderFields = map[string]bool{
	"payment_sequential":   true,
	"payment_installments": true,
}

type indexPage struct {
	Fields []formField
	Score  string
	Error  string
}

func newIndexPage(values map[string]string) indexPage {
	page := indexPage{Fields: make([]formField, len(dataprep.FeatureColumns))}
	for i, name := range dataprep.FeatureColumns {
		v := values[name]
		if v == "" {
			v = "0"
		}
		page.Fields[i] = formField{
			Name:   name,
			Label:  fieldLabels[name],
			Slider: sliderFields[name],
			Value:  v,
		}
	}
	return page
}

// handleIndex renders the empty prediction form
func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", newIndexPage(nil))
}

// handlePredictForm scores the submitted form and re-renders it with the
// result or a generic error
func (s *Server) handlePredictForm(c *gin.Context) {
	values := make(map[string]string, len(dataprep.FeatureColumns))
	record := make(map[string]float64, len(dataprep.FeatureColumns))
	var parseErr error
	for _, name := range dataprep.FeatureColumns {
		raw := strings.TrimSpace(c.PostForm(name))
		values[name] = raw
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		record[name] = v
	}
	page := newIndexPage(values)

	if parseErr != nil {
		s.predictions.WithLabelValues("predict", "invalid").Inc()
		s.log.Warn("Invalid prediction form", logger.Error(parseErr))
		page.Error = predictionFailedMessage
		c.HTML(http.StatusBadRequest, "index.html", page)
		return
	}

	model, err := s.store.Get()
	if err != nil {
		s.predictions.WithLabelValues("predict", "unavailable").Inc()
		s.log.Error("Model unavailable", logger.Error(err))
		page.Error = predictionFailedMessage
		c.HTML(http.StatusServiceUnavailable, "index.html", page)
		return
	}

	score, err := model.PredictRecord(record)
	if err != nil {
		s.predictions.WithLabelValues("predict", "error").Inc()
		s.log.Error("Prediction failed", logger.Error(err))
		page.Error = predictionFailedMessage
		c.HTML(http.StatusInternalServerError, "index.html", page)
		return
	}

	s.predictions.WithLabelValues("predict", "ok").Inc()
	page.Score = strconv.FormatFloat(score, 'f', 2, 64)
	c.HTML(http.StatusOK, "index.html", page)
}

// handleInvocations is the JSON prediction endpoint of a deployed service
func (s *Server) handleInvocations(c *gin.Context) {
	var req models.InvocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.predictions.WithLabelValues("invocations", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Columns) == 0 {
		s.predictions.WithLabelValues("invocations", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "columns are required"})
		return
	}

	model, err := s.store.Get()
	if err != nil {
		s.predictions.WithLabelValues("invocations", "unavailable").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	preds, err := model.PredictColumns(req.Columns, req.Rows())
	if err != nil {
		s.predictions.WithLabelValues("invocations", "invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if preds == nil {
		preds = []float64{}
	}

	s.predictions.WithLabelValues("invocations", "ok").Inc()
	c.JSON(http.StatusOK, models.InvocationResponse{Predictions: preds})
}
