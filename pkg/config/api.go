package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	TokenTTL           time.Duration
	LogLevel           string
	CORSAllowedOrigins []string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ShutdownTimeout    time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://taskwell:taskwell@db:5432/taskwell?sslmode=disable"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		JWTIssuer:          GetString("JWT_ISSUER", "taskwell"),
		JWTAudience:        GetString("JWT_AUDIENCE", "taskwell-clients"),
		TokenTTL:           time.Duration(GetInt("JWT_EXPIRY_MINUTES", 60)) * time.Minute,
		LogLevel:           GetString("LOG_LEVEL", "info"),
		CORSAllowedOrigins: GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ShutdownTimeout:    time.Duration(GetInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
