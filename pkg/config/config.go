package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// Config holds the application configuration
type Config struct {
	Environment     string `validate:"required"`
	LogLevel        string `validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Port            string `validate:"required,numeric"`
	DataPath        string `validate:"required"`
	ModelPath       string `validate:"required"`
	TrackingDBPath  string `validate:"required"`
	Experiment      string `validate:"required"`
	RetrainSchedule string `validate:"required"`
	Training        models.TrainingConfig
	Deployment      DeploymentConfig
}

// DeploymentConfig holds settings for the model server rollout
type DeploymentConfig struct {
	Namespace      string  `yaml:"namespace" validate:"required,hostname_rfc1123"`
	Image          string  `yaml:"image" validate:"required"`
	Workers        int     `yaml:"workers" validate:"gte=1"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"gte=0"`
	ServiceName    string  `yaml:"service_name" validate:"required,hostname_rfc1123"`
	ServicePort    int     `yaml:"service_port" validate:"gte=1,lte=65535"`
	PipelineName   string  `yaml:"pipeline_name" validate:"required,max=63"`
	StepName       string  `yaml:"step_name" validate:"required,max=63"`
	ModelName      string  `yaml:"model_name" validate:"required,max=63"`
	ModelPVC       string  `yaml:"model_pvc"`
	MinAccuracy    float64 `yaml:"min_accuracy"`
	Kubeconfig     string  `yaml:"kubeconfig"`
}

// fileOverlay is the shape of the optional YAML file named by CONFIG_FILE
type fileOverlay struct {
	Training   *models.TrainingConfig `yaml:"training"`
	Deployment *DeploymentConfig      `yaml:"deployment"`
}

// LoadConfig loads configuration from a .env file, environment variables
// and the optional CONFIG_FILE overlay, in that order of precedence
// (overlay values win for the sections it sets).
func LoadConfig() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	defaults := models.DefaultTrainingConfig()

	config := &Config{
		Environment:     getEnv("APP_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnv("PORT", "8080"),
		DataPath:        getEnv("DATA_PATH", "./data/olist_customers_dataset.csv"),
		ModelPath:       getEnv("MODEL_PATH", "./artifacts/model.json"),
		TrackingDBPath:  getEnv("TRACKING_DB_PATH", "./mlruns/tracking.db"),
		Experiment:      getEnv("EXPERIMENT_NAME", "customer_satisfaction_experiment"),
		RetrainSchedule: getEnv("RETRAIN_SCHEDULE", "@daily"),
		Training: models.TrainingConfig{
			ModelName:  models.ModelType(getEnv("MODEL_NAME", string(defaults.ModelName))),
			FineTuning: getEnvAsBool("FINE_TUNING", defaults.FineTuning),
			Trials:     getEnvAsInt("TUNING_TRIALS", defaults.Trials),
			TestSize:   getEnvAsFloat("TEST_SIZE", defaults.TestSize),
			RandomSeed: int64(getEnvAsInt("RANDOM_SEED", int(defaults.RandomSeed))),
		},
		Deployment: DeploymentConfig{
			Namespace:      getEnv("K8S_NAMESPACE", "default"),
			Image:          getEnv("MODEL_SERVER_IMAGE", "satisfaction-pipeline:latest"),
			Workers:        getEnvAsInt("DEPLOY_WORKERS", 3),
			TimeoutSeconds: getEnvAsInt("DEPLOY_TIMEOUT", 60),
			ServiceName:    getEnv("SERVICE_NAME", "satisfaction-model"),
			ServicePort:    getEnvAsInt("SERVICE_PORT", 8080),
			PipelineName:   getEnv("DEPLOY_PIPELINE_NAME", "continuous_deployment_pipeline"),
			StepName:       getEnv("DEPLOY_STEP_NAME", "model_deployer_step"),
			ModelName:      getEnv("DEPLOY_MODEL_NAME", "model"),
			ModelPVC:       getEnv("MODEL_PVC", "satisfaction-models"),
			MinAccuracy:    getEnvAsFloat("MIN_ACCURACY", 0),
			Kubeconfig:     getEnv("KUBECONFIG", ""),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Decode on top of the current values so unset keys keep env defaults
	overlay := fileOverlay{Training: &c.Training, Deployment: &c.Deployment}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("training config: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError flattens validator errors into one message naming each
// offending field
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s (%v) fails %s", fe.Namespace(), fe.Value(), rule))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
