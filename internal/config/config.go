package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port       int
	Host       string
	AppEnv     string
	CORSOrigin string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Graph mirror
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Auth
	JWTSecret   string
	MediaSecret string

	// Review pipeline
	ApprovalThreshold          int
	VoteCeiling                int
	ReviewRevisions            bool
	InactivePrerequisitePolicy string
	ScoreCacheTTL              time.Duration

	// Rate Limiting
	SubmissionRateLimit int // per window
	CommentRateLimit    int // per window
	VoteRateLimit       int // per window
	RateLimitWindow     time.Duration

	// Tracing
	OTelEnabled     bool
	OTelEndpoint    string
	OTelHeaders     string
	OTelInsecure    bool
	OTelSampleRatio float64
}

func Load() *Config {
	return &Config{
		Port:                       getEnvInt("PORT", 8080),
		Host:                       getEnv("HOST", "0.0.0.0"),
		AppEnv:                     getEnv("APP_ENV", "development"),
		CORSOrigin:                 getEnv("CORS_ORIGIN", "*"),
		DatabaseURL:                getEnv("DATABASE_URL", "sqlite://trickbook.db"),
		RedisURL:                   getEnv("REDIS_URL", ""),
		Neo4jURI:                   getEnv("NEO4J_URI", ""),
		Neo4jUser:                  getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:              getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:              getEnv("NEO4J_DATABASE", ""),
		JWTSecret:                  getEnv("JWT_SECRET", ""),
		MediaSecret:                getEnv("MEDIA_SECRET", ""),
		ApprovalThreshold:          getEnvInt("APPROVAL_THRESHOLD", 10),
		VoteCeiling:                getEnvInt("VOTE_CEILING", 50),
		ReviewRevisions:            getEnvBool("REVIEW_REVISIONS", true),
		InactivePrerequisitePolicy: getEnv("INACTIVE_PREREQUISITE_POLICY", "satisfied"),
		ScoreCacheTTL:              getEnvDuration("SCORE_CACHE_TTL", 5*time.Minute),
		SubmissionRateLimit:        getEnvInt("SUBMISSION_RATE_LIMIT", 10),
		CommentRateLimit:           getEnvInt("COMMENT_RATE_LIMIT", 60),
		VoteRateLimit:              getEnvInt("VOTE_RATE_LIMIT", 120),
		RateLimitWindow:            getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		OTelEnabled:                getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:               getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelHeaders:                getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTelInsecure:               getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTelSampleRatio:            getEnvFloat("OTEL_SAMPLER_RATIO", 0.1),
	}
}

func (c *Config) Production() bool {
	env := strings.ToLower(c.AppEnv)
	return env == "prod" || env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
