// Package config provides configuration management for the model video uploader.
// Configuration is layered: built-in defaults, an optional YAML file, an optional
// .env file, and finally MODELVIDEO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".modelvideo"
	DefaultPort            = 3000
	DefaultCredentialsFile = "univ-capstone2024-firebase-adminsdk-e5qv1-deb3ea0dca.json"
	DefaultBucket          = "univ-capstone2024.appspot.com"
	DefaultVideoPath       = "videos/test.mp4"
	DefaultObjectFileName  = "test.mp4"
	DefaultModelID         = "model1"
	DefaultRecordBackend   = BackendFirestore
	DefaultMongoDatabase   = "modelvideo"
	DefaultReadinessMode   = ModeStable
	DefaultMarkerSuffix    = ".done"
	DefaultSettleChecks    = 3

	DefaultStartDelay      = 5 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultQuietPeriod     = 2 * time.Second
	DefaultReadyTimeout    = 2 * time.Minute
	DefaultRetryAttempts   = 4
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 10 * time.Second
	DefaultProducerTimeout = 10 * time.Minute
	DefaultLockTTL         = 15 * time.Minute
	DefaultRateLimit       = 2.0
	DefaultRateBurst       = 5
	DefaultCORSOrigins     = "*"

	// Database filename
	DBFilename = "modelvideo.db"

	// Environment variable names
	EnvConfigFile        = "MODELVIDEO_CONFIG"
	EnvLogLevel          = "MODELVIDEO_LOG_LEVEL"
	EnvDataDir           = "MODELVIDEO_DATA_DIR"
	EnvPort              = "MODELVIDEO_PORT"
	EnvCredentialsFile   = "MODELVIDEO_CREDENTIALS_FILE"
	EnvBucket            = "MODELVIDEO_BUCKET"
	EnvProjectID         = "MODELVIDEO_PROJECT_ID"
	EnvVerifyCredentials = "MODELVIDEO_VERIFY_CREDENTIALS"
	EnvVideoPath         = "MODELVIDEO_VIDEO_PATH"
	EnvObjectFileName    = "MODELVIDEO_OBJECT_FILE"
	EnvModelID           = "MODELVIDEO_MODEL_ID"
	EnvRecordBackend     = "MODELVIDEO_RECORD_BACKEND"
	EnvMongoURI          = "MODELVIDEO_MONGO_URI"
	EnvMongoDatabase     = "MODELVIDEO_MONGO_DATABASE"
	EnvReadinessMode     = "MODELVIDEO_READINESS"
	EnvStartDelay        = "MODELVIDEO_START_DELAY"
	EnvPollInterval      = "MODELVIDEO_POLL_INTERVAL"
	EnvSettleChecks      = "MODELVIDEO_SETTLE_CHECKS"
	EnvQuietPeriod       = "MODELVIDEO_QUIET_PERIOD"
	EnvReadyTimeout      = "MODELVIDEO_READY_TIMEOUT"
	EnvMarkerSuffix      = "MODELVIDEO_MARKER_SUFFIX"
	EnvRetryAttempts     = "MODELVIDEO_RETRY_ATTEMPTS"
	EnvRetryInitial      = "MODELVIDEO_RETRY_INITIAL_BACKOFF"
	EnvRetryMax          = "MODELVIDEO_RETRY_MAX_BACKOFF"
	EnvNATSURL           = "MODELVIDEO_NATS_URL"
	EnvProducerCommand   = "MODELVIDEO_PRODUCER_COMMAND"
	EnvProducerTimeout   = "MODELVIDEO_PRODUCER_TIMEOUT"
	EnvRedisURL          = "MODELVIDEO_REDIS_URL"
	EnvLockTTL           = "MODELVIDEO_LOCK_TTL"
	EnvAPISigningKey     = "MODELVIDEO_API_SIGNING_KEY"
	EnvCORSOrigins       = "MODELVIDEO_CORS_ORIGINS"
	EnvRateLimit         = "MODELVIDEO_RATE_LIMIT"
	EnvRateBurst         = "MODELVIDEO_RATE_BURST"
)

// Record backends
const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
)

// Readiness modes
const (
	ModeDelay  = "delay"
	ModeStable = "stable"
	ModeWatch  = "watch"
	ModeMarker = "marker"
	ModeNATS   = "nats"
)

// Config defines the application configuration interface
type Config interface {
	LogLevel() string
	DataDir() string
	DBPath() string
	Port() int

	CredentialsFile() string
	Bucket() string
	ProjectID() string
	VerifyCredentials() bool

	VideoPath() string
	ObjectFileName() string
	ModelID() string
	RecordBackend() string
	MongoURI() string
	MongoDatabase() string

	ReadinessMode() string
	StartDelay() time.Duration
	PollInterval() time.Duration
	SettleChecks() int
	QuietPeriod() time.Duration
	ReadyTimeout() time.Duration
	MarkerSuffix() string

	RetryAttempts() int
	RetryInitialBackoff() time.Duration
	RetryMaxBackoff() time.Duration

	NATSURL() string
	ProducerCommand() string
	ProducerTimeout() time.Duration

	RedisURL() string
	LockTTL() time.Duration

	APISigningKey() string
	CORSOrigins() []string
	RateLimit() float64
	RateBurst() int
}

// EnvConfig holds configuration resolved from defaults, file and environment
type EnvConfig struct {
	logLevel string
	dataDir  string
	port     int

	credentialsFile   string
	bucket            string
	projectID         string
	verifyCredentials bool

	videoPath      string
	objectFileName string
	modelID        string
	recordBackend  string
	mongoURI       string
	mongoDatabase  string

	readinessMode string
	startDelay    time.Duration
	pollInterval  time.Duration
	settleChecks  int
	quietPeriod   time.Duration
	readyTimeout  time.Duration
	markerSuffix  string

	retryAttempts int
	retryInitial  time.Duration
	retryMax      time.Duration

	natsURL         string
	producerCommand string
	producerTimeout time.Duration

	redisURL string
	lockTTL  time.Duration

	apiSigningKey string
	corsOrigins   []string
	rateLimit     float64
	rateBurst     int
}

// fileConfig mirrors the YAML layout of an optional config file.
type fileConfig struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`

	Firebase struct {
		CredentialsFile   string `yaml:"credentials_file"`
		Bucket            string `yaml:"bucket"`
		ProjectID         string `yaml:"project_id"`
		VerifyCredentials *bool  `yaml:"verify_credentials"`
	} `yaml:"firebase"`

	Upload struct {
		VideoPath      string `yaml:"video_path"`
		ObjectFileName string `yaml:"object_file"`
		ModelID        string `yaml:"model_id"`
	} `yaml:"upload"`

	Records struct {
		Backend       string `yaml:"backend"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
	} `yaml:"records"`

	Readiness struct {
		Mode         string        `yaml:"mode"`
		StartDelay   time.Duration `yaml:"start_delay"`
		PollInterval time.Duration `yaml:"poll_interval"`
		SettleChecks *int          `yaml:"settle_checks"`
		QuietPeriod  time.Duration `yaml:"quiet_period"`
		Timeout      time.Duration `yaml:"timeout"`
		MarkerSuffix string        `yaml:"marker_suffix"`
	} `yaml:"readiness"`

	Retry struct {
		Attempts       *int          `yaml:"attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
	} `yaml:"retry"`

	NATSURL string `yaml:"nats_url"`

	Producer struct {
		Command string        `yaml:"command"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"producer"`

	Lock struct {
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"lock"`

	API struct {
		SigningKey  string   `yaml:"signing_key"`
		CORSOrigins []string `yaml:"cors_origins"`
		RateLimit   *float64 `yaml:"rate_limit"`
		RateBurst   *int     `yaml:"rate_burst"`
	} `yaml:"api"`
}

// New creates a new EnvConfig. path names an optional YAML file; when empty
// MODELVIDEO_CONFIG is consulted. A .env file in the working directory is
// loaded without overriding variables already set in the environment.
func New(path string) (*EnvConfig, error) {
	cfg := defaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		port:              DefaultPort,
		credentialsFile:   DefaultCredentialsFile,
		bucket:            DefaultBucket,
		verifyCredentials: true,
		videoPath:         DefaultVideoPath,
		objectFileName:    DefaultObjectFileName,
		modelID:           DefaultModelID,
		recordBackend:     DefaultRecordBackend,
		mongoDatabase:     DefaultMongoDatabase,
		readinessMode:     DefaultReadinessMode,
		startDelay:        DefaultStartDelay,
		pollInterval:      DefaultPollInterval,
		settleChecks:      DefaultSettleChecks,
		quietPeriod:       DefaultQuietPeriod,
		readyTimeout:      DefaultReadyTimeout,
		markerSuffix:      DefaultMarkerSuffix,
		retryAttempts:     DefaultRetryAttempts,
		retryInitial:      DefaultRetryInitial,
		retryMax:          DefaultRetryMax,
		producerTimeout:   DefaultProducerTimeout,
		lockTTL:           DefaultLockTTL,
		corsOrigins:       []string{DefaultCORSOrigins},
		rateLimit:         DefaultRateLimit,
		rateBurst:         DefaultRateBurst,
	}
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	if fc.Port != 0 {
		c.port = fc.Port
	}

	setString(&c.credentialsFile, fc.Firebase.CredentialsFile)
	setString(&c.bucket, fc.Firebase.Bucket)
	setString(&c.projectID, fc.Firebase.ProjectID)
	if fc.Firebase.VerifyCredentials != nil {
		c.verifyCredentials = *fc.Firebase.VerifyCredentials
	}

	setString(&c.videoPath, fc.Upload.VideoPath)
	setString(&c.objectFileName, fc.Upload.ObjectFileName)
	setString(&c.modelID, fc.Upload.ModelID)

	setString(&c.recordBackend, fc.Records.Backend)
	setString(&c.mongoURI, fc.Records.MongoURI)
	setString(&c.mongoDatabase, fc.Records.MongoDatabase)

	setString(&c.readinessMode, fc.Readiness.Mode)
	setDuration(&c.startDelay, fc.Readiness.StartDelay)
	setDuration(&c.pollInterval, fc.Readiness.PollInterval)
	setInt(&c.settleChecks, fc.Readiness.SettleChecks)
	setDuration(&c.quietPeriod, fc.Readiness.QuietPeriod)
	setDuration(&c.readyTimeout, fc.Readiness.Timeout)
	setString(&c.markerSuffix, fc.Readiness.MarkerSuffix)

	setInt(&c.retryAttempts, fc.Retry.Attempts)
	setDuration(&c.retryInitial, fc.Retry.InitialBackoff)
	setDuration(&c.retryMax, fc.Retry.MaxBackoff)

	setString(&c.natsURL, fc.NATSURL)
	setString(&c.producerCommand, fc.Producer.Command)
	setDuration(&c.producerTimeout, fc.Producer.Timeout)

	setString(&c.redisURL, fc.Lock.RedisURL)
	setDuration(&c.lockTTL, fc.Lock.TTL)

	setString(&c.apiSigningKey, fc.API.SigningKey)
	if len(fc.API.CORSOrigins) > 0 {
		c.corsOrigins = fc.API.CORSOrigins
	}
	if fc.API.RateLimit != nil {
		c.rateLimit = *fc.API.RateLimit
	}
	setInt(&c.rateBurst, fc.API.RateBurst)
	return nil
}

func (c *EnvConfig) applyEnv() error {
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.credentialsFile, os.Getenv(EnvCredentialsFile))
	setString(&c.bucket, os.Getenv(EnvBucket))
	setString(&c.projectID, os.Getenv(EnvProjectID))
	if v := os.Getenv(EnvVerifyCredentials); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvVerifyCredentials, err)
		}
		c.verifyCredentials = b
	}

	setString(&c.videoPath, os.Getenv(EnvVideoPath))
	setString(&c.objectFileName, os.Getenv(EnvObjectFileName))
	setString(&c.modelID, os.Getenv(EnvModelID))
	setString(&c.recordBackend, os.Getenv(EnvRecordBackend))
	setString(&c.mongoURI, os.Getenv(EnvMongoURI))
	setString(&c.mongoDatabase, os.Getenv(EnvMongoDatabase))

	setString(&c.readinessMode, os.Getenv(EnvReadinessMode))
	setString(&c.markerSuffix, os.Getenv(EnvMarkerSuffix))

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvStartDelay, &c.startDelay},
		{EnvPollInterval, &c.pollInterval},
		{EnvQuietPeriod, &c.quietPeriod},
		{EnvReadyTimeout, &c.readyTimeout},
		{EnvRetryInitial, &c.retryInitial},
		{EnvRetryMax, &c.retryMax},
		{EnvProducerTimeout, &c.producerTimeout},
		{EnvLockTTL, &c.lockTTL},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvSettleChecks, &c.settleChecks},
		{EnvRetryAttempts, &c.retryAttempts},
		{EnvRateBurst, &c.rateBurst},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.env, err)
		}
		*i.dst = n
	}

	setString(&c.natsURL, os.Getenv(EnvNATSURL))
	setString(&c.producerCommand, os.Getenv(EnvProducerCommand))
	setString(&c.redisURL, os.Getenv(EnvRedisURL))
	setString(&c.apiSigningKey, os.Getenv(EnvAPISigningKey))

	if v := os.Getenv(EnvCORSOrigins); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.corsOrigins = origins
	}

	if v := os.Getenv(EnvRateLimit); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRateLimit, err)
		}
		c.rateLimit = f
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}

	c.recordBackend = strings.ToLower(c.recordBackend)
	switch c.recordBackend {
	case BackendFirestore:
	case BackendMongo:
		if c.mongoURI == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvMongoURI, EnvRecordBackend, BackendMongo)
		}
	default:
		return fmt.Errorf("invalid %s: unknown backend %q", EnvRecordBackend, c.recordBackend)
	}

	c.readinessMode = strings.ToLower(c.readinessMode)
	switch c.readinessMode {
	case ModeDelay, ModeStable, ModeWatch, ModeMarker:
	case ModeNATS:
		if c.natsURL == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvNATSURL, EnvReadinessMode, ModeNATS)
		}
	default:
		return fmt.Errorf("invalid %s: unknown mode %q", EnvReadinessMode, c.readinessMode)
	}

	if c.settleChecks < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvSettleChecks)
	}
	if c.retryAttempts < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvRetryAttempts)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvPollInterval)
	}
	if c.bucket == "" {
		return fmt.Errorf("%s must not be empty", EnvBucket)
	}
	if strings.Contains(c.objectFileName, "/") {
		return fmt.Errorf("invalid %s: must be a file name, not a path", EnvObjectFileName)
	}
	if c.modelID == "" || strings.Contains(c.modelID, "/") {
		return fmt.Errorf("invalid %s: must be a single document id", EnvModelID)
	}
	if c.rateLimit < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvRateLimit)
	}
	if c.rateLimit > 0 && c.rateBurst < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvRateBurst)
	}
	if c.lockTTL <= 0 {
		return fmt.Errorf("invalid %s: must be positive", EnvLockTTL)
	}
	return nil
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite ledger file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// CredentialsFile returns the service-account JSON path
func (c *EnvConfig) CredentialsFile() string {
	return c.credentialsFile
}

// Bucket returns the storage bucket name
func (c *EnvConfig) Bucket() string {
	return c.bucket
}

// ProjectID returns the project id override; empty means "from credentials"
func (c *EnvConfig) ProjectID() string {
	return c.projectID
}

func (c *EnvConfig) VerifyCredentials() bool {
	return c.verifyCredentials
}

// VideoPath returns the local video file to upload
func (c *EnvConfig) VideoPath() string {
	return c.videoPath
}

func (c *EnvConfig) ObjectFileName() string {
	return c.objectFileName
}

// ModelID returns the document id under users/<uid>/models
func (c *EnvConfig) ModelID() string {
	return c.modelID
}

func (c *EnvConfig) RecordBackend() string {
	return c.recordBackend
}

func (c *EnvConfig) MongoURI() string {
	return c.mongoURI
}

func (c *EnvConfig) MongoDatabase() string {
	return c.mongoDatabase
}

func (c *EnvConfig) ReadinessMode() string {
	return c.readinessMode
}

func (c *EnvConfig) StartDelay() time.Duration {
	return c.startDelay
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) SettleChecks() int {
	return c.settleChecks
}

func (c *EnvConfig) QuietPeriod() time.Duration {
	return c.quietPeriod
}

func (c *EnvConfig) ReadyTimeout() time.Duration {
	return c.readyTimeout
}

func (c *EnvConfig) MarkerSuffix() string {
	return c.markerSuffix
}

func (c *EnvConfig) RetryAttempts() int {
	return c.retryAttempts
}

func (c *EnvConfig) RetryInitialBackoff() time.Duration {
	return c.retryInitial
}

func (c *EnvConfig) RetryMaxBackoff() time.Duration {
	return c.retryMax
}

// NATSURL returns the NATS server URL; empty disables events
func (c *EnvConfig) NATSURL() string {
	return c.natsURL
}

func (c *EnvConfig) ProducerCommand() string {
	return c.producerCommand
}

func (c *EnvConfig) ProducerTimeout() time.Duration {
	return c.producerTimeout
}

// RedisURL returns the Redis URL for per-user upload locks; empty disables locking
func (c *EnvConfig) RedisURL() string {
	return c.redisURL
}

func (c *EnvConfig) LockTTL() time.Duration {
	return c.lockTTL
}

// APISigningKey returns the HS256 key for bearer tokens; empty disables auth
func (c *EnvConfig) APISigningKey() string {
	return c.apiSigningKey
}

func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

// RateLimit returns requests per second per client; zero disables limiting
func (c *EnvConfig) RateLimit() float64 {
	return c.rateLimit
}

func (c *EnvConfig) RateBurst() int {
	return c.rateBurst
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// setInt applies v when the file sets the key, so an explicit 0 is kept.
func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
