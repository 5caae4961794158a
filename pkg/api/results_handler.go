package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

const resultsLimit = 20

type resultRow struct {
	RunID    string
	Pipeline string
	Model    string
	Status   string
	MSE      string
	RMSE     string
	R2       string
	Started  string
}

type resultsPage struct {
	Experiment string
	Rows       []resultRow
	Error      string
}

func formatMetric(run *models.Run, key string) string {
	v, ok := run.Metric(key)
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// handleResults renders the recent tracked runs of the experiment
func (s *Server) handleResults(c *gin.Context) {
	page := resultsPage{Experiment: s.opts.Experiment}
	if s.tracker == nil {
		c.HTML(http.StatusOK, "results.html", page)
		return
	}

	runs, err := s.tracker.ListRuns(c.Request.Context(), s.opts.Experiment, resultsLimit)
	if err != nil {
		s.log.Error("Failed to list runs", logger.Error(err))
		page.Error = "Could not load tracked runs."
		c.HTML(http.StatusInternalServerError, "results.html", page)
		return
	}

	for _, run := range runs {
		model := run.Params["model_name"]
		if model == "" {
			model = "-"
		}
		page.Rows = append(page.Rows, resultRow{
			RunID:    run.ID,
			Pipeline: run.PipelineName,
			Model:    model,
			Status:   string(run.Status),
			MSE:      formatMetric(run, "mse"),
			RMSE:     formatMetric(run, "rmse"),
			R2:       formatMetric(run, "r2_score"),
			Started:  run.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	c.HTML(http.StatusOK, "results.html", page)
}
