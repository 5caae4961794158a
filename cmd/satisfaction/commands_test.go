package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

func TestDeploymentModeFlag(t *testing.T) {
	tests := []struct {
		value    string
		wantErr  bool
		deploys  bool
		predicts bool
	}{
		{deployOnly, false, true, false},
		{predictOnly, false, false, true},
		{deployAndPredict, false, true, true},
		{"train", true, false, false},
		{"", true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			var m deploymentMode
			err := m.Set(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.deploys, m.deploys())
			assert.Equal(t, tt.predicts, m.predicts())
		})
	}
}

func TestRunDeploymentRejectsUnknownConfig(t *testing.T) {
	err := runDeploymentCmd.Flags().Set("config", "bogus")
	assert.Error(t, err)
	assert.Equal(t, deployAndPredict, mode.String())
}

func TestResolveMinAccuracy(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "run-deployment"}
		cmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "")
		return cmd
	}

	cmd := newCmd()
	assert.Equal(t, 0.45, resolveMinAccuracy(cmd, 0.45), "config applies when the flag is unset")

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("min-accuracy", "0.7"))
	assert.Equal(t, 0.7, resolveMinAccuracy(cmd, 0.45))

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("min-accuracy", "0"))
	assert.Equal(t, 0.0, resolveMinAccuracy(cmd, 0.45), "an explicit zero wins")
}

func TestPrintServiceStatus(t *testing.T) {
	tests := []struct {
		name     string
		services []*models.PredictionService
		want     []string
	}{
		{
			name: "none",
			want: []string{"No prediction service is deployed."},
		},
		{
			name: "running",
			services: []*models.PredictionService{{
				Name:          "satisfaction-model",
				Namespace:     "ml",
				State:         models.ServiceStateRunning,
				PredictionURL: "http://satisfaction-model.ml.svc.cluster.local:8080/invocations",
			}},
			want: []string{"is running", "http://satisfaction-model.ml.svc.cluster.local:8080/invocations"},
		},
		{
			name: "failed",
			services: []*models.PredictionService{{
				Name:      "satisfaction-model",
				State:     models.ServiceStateFailed,
				LastError: "deployment did not become available within 1m0s",
			}},
			want: []string{"failed state", `"failed"`, "did not become available"},
		},
		{
			name:     "pending",
			services: []*models.PredictionService{{State: models.ServiceStatePending}},
			want:     []string{"not ready yet"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printServiceStatus(&buf, tt.services)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run-pipeline", "run-deployment", "serve", "schedule"} {
		assert.True(t, names[want], want)
	}
}
