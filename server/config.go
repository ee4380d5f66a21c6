package server

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

const ssmPrefix = "ssm:"

// Metadata store backends
const (
	BackendDynamoDB   = "dynamodb"
	BackendDocumentDB = "documentdb"
	BackendBadger     = "badger"
)

// Config represents the server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Log      LogConfig      `yaml:"log" json:"log"`
	AWS      AWSConfig      `yaml:"aws" json:"aws"`
	Metadata MetadataConfig `yaml:"metadata" json:"metadata"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	GRPCPort     int           `yaml:"grpc_port" json:"grpc_port" env:"GRPC_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
}

// UnmarshalJSON accepts timeouts as duration strings such as "30s", the
// form used in YAML, or as integer nanoseconds.
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type plain ServerConfig
	aux := struct {
		*plain
		ReadTimeout  json.RawMessage `json:"read_timeout"`
		WriteTimeout json.RawMessage `json:"write_timeout"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if s.ReadTimeout, err = parseJSONDuration(aux.ReadTimeout, s.ReadTimeout); err != nil {
		return fmt.Errorf("invalid read_timeout: %w", err)
	}
	if s.WriteTimeout, err = parseJSONDuration(aux.WriteTimeout, s.WriteTimeout); err != nil {
		return fmt.Errorf("invalid write_timeout: %w", err)
	}
	return nil
}

func parseJSONDuration(raw json.RawMessage, current time.Duration) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return current, nil
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		return time.ParseDuration(str)
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
}

// AWSConfig holds connection settings shared by the AWS backed stores
type AWSConfig struct {
	Region          string `yaml:"region" json:"region" env:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" json:"endpoint" env:"AWS_ENDPOINT_URL"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	MaxRetries      int    `yaml:"max_retries" json:"max_retries" env:"AWS_MAX_RETRIES"`
	AutoProvision   bool   `yaml:"auto_provision" json:"auto_provision" env:"AUTO_PROVISION"`

	S3          S3Config          `yaml:"s3" json:"s3"`
	DynamoDB    DynamoDBConfig    `yaml:"dynamodb" json:"dynamodb"`
	DocumentDB  DocumentDBConfig  `yaml:"documentdb" json:"documentdb"`
	ElastiCache ElastiCacheConfig `yaml:"elasticache" json:"elasticache"`
}

// S3Config holds blob store settings
type S3Config struct {
	BucketName     string `yaml:"bucket_name" json:"bucket_name" env:"S3_BUCKET"`
	ForcePathStyle bool   `yaml:"force_path_style" json:"force_path_style" env:"S3_FORCE_PATH_STYLE"`
}

// DynamoDBConfig holds DynamoDB image store settings
type DynamoDBConfig struct {
	ImagesTable string `yaml:"images_table" json:"images_table" env:"DYNAMODB_TABLE"`
}

// DocumentDBConfig holds DocumentDB image store settings
type DocumentDBConfig struct {
	ConnectionString string `yaml:"connection_string" json:"connection_string" env:"DOCUMENTDB_URI"`
	DatabaseName     string `yaml:"database_name" json:"database_name" env:"DOCUMENTDB_DATABASE"`
	Collection       string `yaml:"collection" json:"collection" env:"DOCUMENTDB_COLLECTION"`
	CAFile           string `yaml:"ca_file" json:"ca_file" env:"DOCUMENTDB_CA_FILE"`
}

// ElastiCacheConfig holds record cache settings. An empty address disables
// the cache.
type ElastiCacheConfig struct {
	Address string `yaml:"address" json:"address" env:"REDIS_ADDRESS"`
	TTL     int    `yaml:"ttl" json:"ttl" env:"REDIS_TTL"`
}

// MetadataConfig selects the image store backend
type MetadataConfig struct {
	Backend    string `yaml:"backend" json:"backend" env:"METADATA_BACKEND"`
	BadgerPath string `yaml:"badger_path" json:"badger_path" env:"BADGER_PATH"`
}

// LoadConfig loads the configuration from a YAML file, or from Parameter
// Store when path is "ssm:<name>". Environment variables override loaded
// values. An empty path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	var config Config

	switch {
	case strings.HasPrefix(path, ssmPrefix):
		if err := loadConfigFromParameterStore(strings.TrimPrefix(path, ssmPrefix), &config); err != nil {
			return nil, err
		}
	case path != "":
		if err := loadConfigFromFile(path, &config); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// loadConfigFromFile loads the configuration from a YAML file
func loadConfigFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadConfigFromParameterStore loads a JSON configuration document from
// AWS Parameter Store
func loadConfigFromParameterStore(name string, config *Config) error {
	awsCfg, err := parameterStoreAWSConfig()
	if err != nil {
		return err
	}

	sess, err := newSession(awsCfg)
	if err != nil {
		return err
	}

	param, err := ssm.New(sess).GetParameter(&ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(aws.StringValue(param.Parameter.Value)), config); err != nil {
		return fmt.Errorf("failed to parse parameter value as JSON: %w", err)
	}
	return nil
}

// parameterStoreAWSConfig builds the AWS settings used to fetch the
// configuration document. Only the environment is known at that point, so
// the endpoint, credentials and retries come from the same variables the
// stores read.
func parameterStoreAWSConfig() (AWSConfig, error) {
	var cfg AWSConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return cfg, nil
}

// applyDefaults sets default values for the configuration
func applyDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.GRPCPort == 0 {
		config.Server.GRPCPort = 8081
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 30 * time.Second
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
	if config.AWS.Region == "" {
		config.AWS.Region = "us-east-1"
	}
	if config.AWS.S3.BucketName == "" {
		config.AWS.S3.BucketName = "images"
	}
	if config.AWS.DynamoDB.ImagesTable == "" {
		config.AWS.DynamoDB.ImagesTable = "image-metadata"
	}
	if config.AWS.DocumentDB.DatabaseName == "" {
		config.AWS.DocumentDB.DatabaseName = "image-service"
	}
	if config.AWS.DocumentDB.Collection == "" {
		config.AWS.DocumentDB.Collection = "images"
	}
	if config.AWS.ElastiCache.TTL == 0 {
		config.AWS.ElastiCache.TTL = 3600
	}
	if config.Metadata.Backend == "" {
		config.Metadata.Backend = BackendDynamoDB
	}
	if config.Metadata.BadgerPath == "" {
		config.Metadata.BadgerPath = "data/images_badger"
	}
}

// Validate reports configuration values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if c.AWS.MaxRetries < 0 {
		return fmt.Errorf("aws.max_retries must not be negative")
	}
	if c.AWS.S3.BucketName == "" {
		return fmt.Errorf("S3 bucket name is required")
	}
	switch c.Metadata.Backend {
	case BackendDynamoDB, BackendBadger:
	case BackendDocumentDB:
		if c.AWS.DocumentDB.ConnectionString == "" {
			return fmt.Errorf("documentdb connection string is required")
		}
	default:
		return fmt.Errorf("unknown metadata backend: %s", c.Metadata.Backend)
	}
	return nil
}
