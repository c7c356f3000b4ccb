package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds buffer pool configuration
type Config struct {
	// Buffer Pool Configuration
	BufferPoolSize uint32 `json:"buffer_pool_size"` // Number of frames in the pool
	ReplacerK uint32 `json:"replacer_k"` // LRU-K history window length

	// Page Table Configuration
	BucketSize int `json:"bucket_size"` // Entries per hash table bucket

	// Disk Configuration
	DataDirectory string `json:"data_directory"` // Directory for data files
	PageSize uint32 `json:"page_size"` // Page size in bytes (default: 4096); only validated, pages are always PageSize bytes
	UseMmap bool `json:"use_mmap"` // Use memory-mapped disk manager
	Compression string `json:"compression"` // Page compression (none, lz4, snappy)

	// Performance Configuration
	EnableMetrics bool `json:"enable_metrics"` // Metrics flag; the buffer pool records metrics whatever its value
	FlushWorkers int `json:"flush_workers"` // Concurrent writers for FlushAllPages
	LogLevel string `json:"log_level"` // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BufferPoolSize: 100,
		ReplacerK: 2, // Scan-resistant without much bookkeeping
		BucketSize: 8,
		DataDirectory: "./data",
		PageSize: PageSize,
		UseMmap: false,
		Compression: "none",
		EnableMetrics: true,
		FlushWorkers: 4,
		LogLevel: "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables
// Falls back to default values if environment variables are not set
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	// Buffer Pool
	if val := os.Getenv("BUSTUB_BUFFER_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.BufferPoolSize = uint32(size)
		}
	}

	if val := os.Getenv("BUSTUB_REPLACER_K"); val != "" {
		if k, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.ReplacerK = uint32(k)
		}
	}

	// Page Table
	if val := os.Getenv("BUSTUB_BUCKET_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.BucketSize = size
		}
	}

	// Disk
	if val := os.Getenv("BUSTUB_DATA_DIRECTORY"); val != "" {
		config.DataDirectory = val
	}

	if val := os.Getenv("BUSTUB_PAGE_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.PageSize = uint32(size)
		}
	}

	if val := os.Getenv("BUSTUB_USE_MMAP"); val != "" {
		config.UseMmap = val == "true" || val == "1"
	}

	if val := os.Getenv("BUSTUB_COMPRESSION"); val != "" {
		config.Compression = val
	}

	// Performance
	if val := os.Getenv("BUSTUB_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("BUSTUB_FLUSH_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			config.FlushWorkers = workers
		}
	}

	if val := os.Getenv("BUSTUB_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", " ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BufferPoolSize == 0 {
		return fmt.Errorf("buffer pool size must be greater than 0")
	}

	if c.ReplacerK == 0 {
		return fmt.Errorf("replacer K must be greater than 0")
	}

	if c.BucketSize < 1 {
		return fmt.Errorf("bucket size must be at least 1")
	}

	if c.PageSize == 0 {
		return fmt.Errorf("page size must be greater than 0")
	}

	if c.PageSize%512 != 0 {
		return fmt.Errorf("page size must be a multiple of 512")
	}

	if c.DataDirectory == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.FlushWorkers < 1 {
		return fmt.Errorf("flush workers must be at least 1")
	}

	// Validate compression algorithm
	validCompression := map[string]bool{
		"none": true,
		"lz4": true,
		"snappy": true,
	}

	if !validCompression[c.Compression] {
		return fmt.Errorf("invalid compression: %s (must be none, lz4, or snappy)", c.Compression)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info": true,
		"warn": true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// CompressionType returns the configured compression as a CompressionType
func (c *Config) CompressionType() CompressionType {
	switch c.Compression {
	case "lz4":
		return CompressionLZ4
	case "snappy":
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
