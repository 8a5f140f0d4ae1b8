package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Transport names accepted by DETECT_TRANSPORT.
const (
	TransportHTTP  = "http"
	TransportGRPC  = "grpc"
	TransportLocal = "local"
)

type Config struct {
	Port                     int               `toml:"port" validate:"min=1,max=65535"`
	Password                 string            `toml:"password" validate:"required"`
	ModelPath                string            `toml:"model_path"`
	ConfigPath               string            `toml:"config_path"`
	ImageDirectory           string            `toml:"image_dir" validate:"required"`
	ImageBufferLimit         int               `toml:"buffer_limit" validate:"min=0"`
	ImageBufferFlushInterval int               `toml:"flush_interval" validate:"min=1"` // seconds
	MotionThreshold          int               `toml:"motion_threshold" validate:"min=0"`
	MotionGate               bool              `toml:"motion_gate"`
	ProcessingInterval       int               `toml:"processing_interval" validate:"min=1"` // process every Nth frame
	ProcessingWorkers        int               `toml:"processing_workers" validate:"min=1"`
	LogDirectory             string            `toml:"log_dir" validate:"required"`
	LogLevel                 string            `toml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	CamerasPort              int               `toml:"cameras_port" validate:"min=0,max=65535"`
	CameraNames              map[string]string `toml:"camera_names"` // camera IP -> name
	DatabasePath             string            `toml:"database_path" validate:"required"`
	Retention                time.Duration     `toml:"retention" validate:"min=0"` // 0 keeps matches forever

	VisionServiceIP   string        `toml:"vision_service_ip" validate:"required"`
	RouterServicePort int           `toml:"router_service_port" validate:"min=1,max=65535"`
	YoloServicePort   int           `toml:"yolo_service_port" validate:"min=1,max=65535"`
	Transport         string        `toml:"transport" validate:"oneof=http grpc local"`
	ImageWidth        int           `toml:"image_width" validate:"min=1"`
	ImageHeight       int           `toml:"image_height" validate:"min=1"`
	EncodeQuality     int           `toml:"encode_quality" validate:"min=1,max=101"`
	Confidence        float64       `toml:"confidence" validate:"gte=0,lte=1"`
	LocalConfidence   float64       `toml:"local_confidence" validate:"gte=0,lte=1"`
	RequestTimeout    time.Duration `toml:"request_timeout" validate:"gt=0"`
	GRPCPort          int           `toml:"grpc_port" validate:"min=0,max=65535"` // 0 disables the detection gRPC server
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:                     8080,
		Password:                 "changeme",
		ModelPath:                filepath.Join(".", "models", "frozen_inference_graph.pb"),
		ConfigPath:               filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt"),
		ImageDirectory:           filepath.Join(".", "images"),
		ImageBufferLimit:         10,
		ImageBufferFlushInterval: 30,
		MotionThreshold:          10000,
		MotionGate:               false,
		ProcessingInterval:       3,
		ProcessingWorkers:        3,
		LogDirectory:             filepath.Join(".", "logs"),
		LogLevel:                 "info",
		CamerasPort:              5005,
		CameraNames:              map[string]string{},
		DatabasePath:             filepath.Join(".", "data", "matches.db"),
		Retention:                7 * 24 * time.Hour,
		VisionServiceIP:          "localhost",
		RouterServicePort:        50049,
		YoloServicePort:          50050,
		Transport:                TransportHTTP,
		ImageWidth:               640,
		ImageHeight:              352,
		EncodeQuality:            80,
		Confidence:               0.3,
		LocalConfidence:          0.2,
		RequestTimeout:           3 * time.Second,
		GRPCPort:                 0,
	}
}

// Load builds the configuration from defaults, an optional TOML file named by
// CONFIG_FILE, a .env file and finally the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes a TOML file over the current values. Durations are
// written as strings ("3s").
func (c *Config) loadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.Password = getEnv("PASSWORD", c.Password)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.ConfigPath = getEnv("CONFIG_PATH", c.ConfigPath)
	c.ImageDirectory = getEnv("IMAGE_DIR", c.ImageDirectory)
	c.ImageBufferLimit = getEnvAsInt("BUFFER_LIMIT", c.ImageBufferLimit)
	c.ImageBufferFlushInterval = getEnvAsInt("FLUSH_INTERVAL", c.ImageBufferFlushInterval)
	c.MotionThreshold = getEnvAsInt("MOTION_THRESHOLD", c.MotionThreshold)
	c.MotionGate = getEnvAsBool("MOTION_GATE", c.MotionGate)
	c.ProcessingInterval = getEnvAsInt("PROCESSING_INTERVAL", c.ProcessingInterval)
	c.ProcessingWorkers = getEnvAsInt("PROCESSING_WORKERS", c.ProcessingWorkers)
	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.CamerasPort = getEnvAsInt("CAMERAS_PORT", c.CamerasPort)
	c.CameraNames = getEnvAsMap("CAMERA_NAMES", c.CameraNames)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.Retention = getEnvAsDuration("RETENTION", c.Retention)

	c.VisionServiceIP = getEnv("VISION_SERVICE_IP", c.VisionServiceIP)
	c.RouterServicePort = getEnvAsInt("ROUTER_SERVICE_PORT", c.RouterServicePort)
	c.YoloServicePort = getEnvAsInt("YOLO_SERVICE_PORT", c.YoloServicePort)
	c.Transport = strings.ToLower(getEnv("DETECT_TRANSPORT", c.Transport))
	c.ImageWidth = getEnvAsInt("IMAGE_WIDTH", c.ImageWidth)
	c.ImageHeight = getEnvAsInt("IMAGE_HEIGHT", c.ImageHeight)
	c.EncodeQuality = getEnvAsInt("ENCODE_QUALITY", c.EncodeQuality)
	c.Confidence = getEnvAsFloat("DETECT_CONFIDENCE", c.Confidence)
	c.LocalConfidence = getEnvAsFloat("LOCAL_CONFIDENCE", c.LocalConfidence)
	c.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.GRPCPort = getEnvAsInt("GRPC_PORT", c.GRPCPort)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsLocalService reports whether the vision service runs on this host.
func (c *Config) IsLocalService() bool {
	return c.VisionServiceIP == "localhost"
}

// DetectConfidence is the threshold sent with each frame. Local detection
// runs at the lower local threshold.
func (c *Config) DetectConfidence() float64 {
	if c.Transport == TransportLocal || c.IsLocalService() {
		return c.LocalConfidence
	}
	return c.Confidence
}

// RouterURL is the HTTP detection endpoint.
func (c *Config) RouterURL() string {
	return fmt.Sprintf("http://%s:%d/yolo", c.VisionServiceIP, c.RouterServicePort)
}

// YoloTarget is the gRPC detection target.
func (c *Config) YoloTarget() string {
	return fmt.Sprintf("%s:%d", c.VisionServiceIP, c.YoloServicePort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("3s") or plain seconds ("3").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

// getEnvAsMap parses "k1=v1,k2=v2".
func getEnvAsMap(key string, defaultValue map[string]string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
