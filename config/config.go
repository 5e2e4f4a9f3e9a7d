package config

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	LogDetections bool // Log detection summaries per processed event
	LogVerbose    bool // Log individual detection items
	DebugMode     bool // Enable debug logging for database operations
}

// DatabaseConfig holds detection log storage configuration
type DatabaseConfig struct {
	Enabled  bool   // Whether to persist detections
	Driver   string // "sqlite" or "postgres"
	Path     string // SQLite database file path
	Host     string // PostgreSQL host
	Port     int    // PostgreSQL port
	Database string // Database name
	Username string // Database username
	Password string // Database password
	SSLMode  string // SSL mode (disable, require, etc.)
}

// DetectorConfig holds entity model and pipeline configuration
type DetectorConfig struct {
	ModelDirectory          string // Directory with model, tokenizer and label files
	SharedLibraryPath       string // ONNX Runtime shared library override
	ChunkRunes              int    // Max runes per model inference chunk
	IncludeQuasiWithoutRisk bool   // Report quasi-identifiers even without combination risk
}

// FaceScanConfig holds face scanning configuration
type FaceScanConfig struct {
	Enabled       bool
	MinConfidence float64
	Workers       int // 0 selects min(8, NumCPU)
}

// AuthConfig holds request authentication settings for the collect API
type AuthConfig struct {
	Required bool
	Secret   string // HMAC key shared with endpoint agents
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr     string
	RateLimitRPS   float64
	RateLimitBurst int
	SoftLimitBytes int64 // Warn above this payload size
	HardLimitBytes int64 // Reject above this payload size
}

// Config holds all configuration for the detection service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Detector  DetectorConfig
	FaceScan  FaceScanConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	SentryDSN string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8090",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			SoftLimitBytes: 20 * 1024 * 1024,
			HardLimitBytes: 100 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Driver:   "sqlite",
			Path:     "docguard.db",
			Host:     "localhost",
			Port:     5432,
			Database: "docguard",
			Username: "postgres",
			Password: "",
			SSLMode:  "disable",
		},
		Detector: DetectorConfig{
			ModelDirectory: "model/quantized",
			ChunkRunes:     400,
		},
		FaceScan: FaceScanConfig{
			Enabled:       true,
			MinConfidence: 0.98,
		},
		Auth: AuthConfig{
			Required: false,
		},
		Logging: LoggingConfig{
			LogDetections: true,
			LogVerbose:    false,
			DebugMode:     false,
		},
	}
}
