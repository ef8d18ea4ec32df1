package config

import (
	"log"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	AppEnv       string
	IsStaging    bool
	IsProduction bool

	Port      string
	JWTSecret string

	DatabaseDSN string
	RedisAddr   string
	RedisPass   string

	GeminiAPIKey    string
	GeminiModel     string
	IsGeminiEnabled bool

	// External rostering solver (forecast + optimization pipeline).
	SolverEndpoint       string
	SolverTimeoutSeconds int
	RosterCacheTTLSecs   int

	// Chat tunables
	ChatHistoryLimit         int
	ChatMaxMessageChars      int
	ChatStreamTimeoutSeconds int

	// Rate limiting
	RateLimitWindowSeconds int
	RateLimitCapacity      int
	UserConcurrencyLimit   int
	DuplicateWindowSeconds int
	CacheMaxItems          int
)

// loadAppEnv loads .env for non-production environments only; production
// relies on the host environment.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "production" {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}
}

func init() {
	loadAppEnv()

	AppEnv = os.Getenv("APP_ENV")
	if !slices.Contains([]string{"staging", "production"}, AppEnv) {
		log.Fatal("environment variable APP_ENV must be 'staging' or 'production'")
	}
	IsStaging = AppEnv == "staging"
	IsProduction = AppEnv == "production"

	JWTSecret = os.Getenv("JWT_SECRET_KEY")
	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "5000"
	}

	DatabaseDSN = os.Getenv("MYSQL_DSN")
	if DatabaseDSN == "" {
		DatabaseDSN = "wardflow:wardflow@tcp(127.0.0.1:3306)/wardflow?charset=utf8mb4&parseTime=True&loc=Local"
	}

	// Optional; token revocation falls back to in-memory when unset.
	RedisAddr = os.Getenv("REDIS_ADDR")
	RedisPass = os.Getenv("REDIS_PASSWORD")

	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	GeminiModel = os.Getenv("GEMINI_MODEL")
	if GeminiModel == "" {
		GeminiModel = "gemini-2.0-flash"
	}
	IsGeminiEnabled = os.Getenv("IS_GEMINI_ENABLED") == "1"

	SolverEndpoint = os.Getenv("SOLVER_ENDPOINT")
	SolverTimeoutSeconds = atoiOr(os.Getenv("SOLVER_TIMEOUT_SECONDS"), 30)
	RosterCacheTTLSecs = atoiOr(os.Getenv("ROSTER_CACHE_TTL_SECONDS"), 300)

	ChatHistoryLimit = atoiOr(os.Getenv("CHAT_HISTORY_LIMIT"), 10)
	ChatMaxMessageChars = atoiOr(os.Getenv("CHAT_MAX_MESSAGE_CHARS"), 4000)
	ChatStreamTimeoutSeconds = atoiOr(os.Getenv("CHAT_STREAM_TIMEOUT_SECONDS"), 90)

	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 10)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), 5)
	UserConcurrencyLimit = atoiOr(os.Getenv("USER_CONCURRENCY_LIMIT"), 2)
	DuplicateWindowSeconds = atoiOr(os.Getenv("DUPLICATE_WINDOW_SECONDS"), 45)
	CacheMaxItems = atoiOr(os.Getenv("CACHE_MAX_ITEMS"), 500)

	if IsProduction && JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY must be set in production")
	}

	log.Printf("[config] AppEnv=%s IsStaging=%v IsProduction=%v", AppEnv, IsStaging, IsProduction)
	log.Printf("[config] IsGeminiEnabled=%v GeminiAPIKeyPresent=%v GeminiModel=%s", IsGeminiEnabled, GeminiAPIKey != "", GeminiModel)
	log.Printf("[config] SolverEndpointPresent=%v RedisPresent=%v", SolverEndpoint != "", RedisAddr != "")
	log.Printf("[config] Chat history=%d maxChars=%d streamTimeout=%ds", ChatHistoryLimit, ChatMaxMessageChars, ChatStreamTimeoutSeconds)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
