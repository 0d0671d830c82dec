package app

import (
	"time"

	"github.com/somnari/somnari-backend/internal/logger"
	"github.com/somnari/somnari-backend/internal/report"
	"github.com/somnari/somnari-backend/internal/utils"
)

type Config struct {
	ServiceName  string
	Environment  string
	Addr         string
	JWTSecretKey string

	ThemeCardinality int
	Report           report.Options
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		ServiceName:      "somnari-backend",
		Environment:      utils.GetEnv("ENVIRONMENT", "development", log),
		Addr:             utils.GetEnv("HTTP_ADDR", ":8080", log),
		JWTSecretKey:     utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		ThemeCardinality: utils.GetEnvAsInt("REPORT_THEME_CARDINALITY", 5, log),
		Report: report.Options{
			MinEntries:       utils.GetEnvAsInt("REPORT_MIN_ENTRIES", 2, log),
			DebounceWindow:   utils.GetEnvAsDuration("REPORT_DEBOUNCE_MS", 300*time.Millisecond, log),
			EmptyPromptDelay: utils.GetEnvAsDuration("REPORT_EMPTY_PROMPT_MS", 2000*time.Millisecond, log),
			UpgradeLeaseTTL:  utils.GetEnvAsDuration("UPGRADE_LEASE_TTL_MS", 3000*time.Millisecond, log),
			WatchdogTimeout:  utils.GetEnvAsDuration("UPGRADE_WATCHDOG_MS", 30000*time.Millisecond, log),
		},
	}
}
