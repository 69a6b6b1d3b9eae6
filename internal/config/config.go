package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env       string `yaml:"env"`
	SecretKey string `yaml:"secret_key"`
	Port      string `yaml:"port"`

	Model   ModelConfig   `yaml:"model"`
	Upload  UploadConfig  `yaml:"upload"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	DB      DBConfig      `yaml:"database"`
	HTTP    HTTPConfig    `yaml:"http"`
}

type ModelConfig struct {
	Path           string `yaml:"path"`
	ClassNamesPath string `yaml:"class_names_path"`
	RuntimeLib     string `yaml:"runtime_lib"`
	InputName      string `yaml:"input_name"`
	OutputName     string `yaml:"output_name"`
	InputLayout    string `yaml:"input_layout"`
	ImageSize      int    `yaml:"image_size"`
	Watch          bool   `yaml:"watch"`
}

type UploadConfig struct {
	Folder            string   `yaml:"folder"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxMB             int64    `yaml:"max_mb"`
}

type LogConfig struct {
	ToStdout bool   `yaml:"to_stdout"`
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
}

type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

type DBConfig struct {
	URL string `yaml:"url"`
}

type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		Env:  "development",
		Port: "4000",
		Model: ModelConfig{
			Path:           filepath.Join("model", "plant_disease_model.onnx"),
			ClassNamesPath: filepath.Join("model", "class_names.txt"),
			InputName:      "input",
			OutputName:     "output",
			InputLayout:    "nhwc",
			ImageSize:      224,
		},
		Upload: UploadConfig{
			Folder:            filepath.Join("data", "uploads"),
			AllowedExtensions: []string{"png", "jpg", "jpeg"},
			MaxMB:             10,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join("logs", "app.log"),
		},
		Storage: StorageConfig{
			Region: "us-east-1",
		},
		HTTP: HTTPConfig{
			Timeout:        60 * time.Second,
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then environment
// variables, each layer overriding the previous one.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.SecretKey = getEnv("SECRET_KEY", c.SecretKey)
	c.Port = getEnv("PORT", c.Port)

	c.Model.Path = getEnv("MODEL_PATH", c.Model.Path)
	c.Model.ClassNamesPath = getEnv("CLASS_NAMES_PATH", c.Model.ClassNamesPath)
	c.Model.RuntimeLib = getEnv("ONNXRUNTIME_LIB", c.Model.RuntimeLib)
	c.Model.InputName = getEnv("MODEL_INPUT_NAME", c.Model.InputName)
	c.Model.OutputName = getEnv("MODEL_OUTPUT_NAME", c.Model.OutputName)
	c.Model.InputLayout = strings.ToLower(getEnv("MODEL_INPUT_LAYOUT", c.Model.InputLayout))

	c.Upload.Folder = getEnv("UPLOAD_FOLDER", c.Upload.Folder)
	if v := os.Getenv("ALLOWED_EXTENSIONS"); v != "" {
		c.Upload.AllowedExtensions = splitList(v)
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Storage.Bucket = getEnv("S3_BUCKET_NAME", c.Storage.Bucket)
	c.Storage.Region = getEnv("AWS_REGION", c.Storage.Region)
	c.Storage.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	c.Storage.Endpoint = getEnv("S3_ENDPOINT", c.Storage.Endpoint)

	c.DB.URL = getEnv("DATABASE_URL", c.DB.URL)

	var err error
	if c.Model.Watch, err = getBool("MODEL_WATCH", c.Model.Watch); err != nil {
		return err
	}
	if c.Log.ToStdout, err = getBool("LOG_TO_STDOUT", c.Log.ToStdout); err != nil {
		return err
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MAX_UPLOAD_MB %q", v)
		}
		c.Upload.MaxMB = n
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_TIMEOUT %q: %w", v, err)
		}
		c.HTTP.Timeout = d
	}

	if c.Model.InputLayout != "nhwc" && c.Model.InputLayout != "nchw" {
		return fmt.Errorf("invalid MODEL_INPUT_LAYOUT %q (want nhwc or nchw)", c.Model.InputLayout)
	}
	return nil
}

// Debug reports whether internal details may be exposed in responses.
func (c *Config) Debug() bool {
	return c.Env != "production"
}

// AllowedFile reports whether name has one of the allowed upload extensions.
func (c *Config) AllowedFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, allowed := range c.Upload.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

func (c *Config) MaxUploadBytes() int64 {
	return c.Upload.MaxMB << 20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, value)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), ".")
		if part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
