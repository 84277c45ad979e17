package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramBotToken string
	DatabaseURL      string
	RedisURL         string

	Entity       string
	MarketSymbol string
	HTTPPort     int
	APIKey       string

	ScoreLagDays          int
	ScoreMaxStaleQuarters int
	ScoreZClip            float64

	RollingWindowDays   int
	MinTrainObs         int
	SplitDate           time.Time
	ForecastHorizonDays int
	MLIncludeComposite  bool
	BoostRounds         int
	BoostHorizonTarget  bool

	BacktestEntry   float64
	BacktestExit    float64
	BacktestCostBps float64

	RefitHourUTC int
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
	}

	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.Entity = strings.TrimSpace(os.Getenv("ENTITY"))
	if cfg.Entity == "" {
		log.Println("Warning: ENTITY not set, defaulting to ACME")
		cfg.Entity = "ACME"
	}

	cfg.MarketSymbol = strings.TrimSpace(os.Getenv("MARKET_SYMBOL"))
	if cfg.MarketSymbol == "" {
		cfg.MarketSymbol = "MARKET"
	}

	cfg.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	if cfg.APIKey == "" {
		log.Println("Warning: API_KEY not set, pipeline trigger endpoint is unauthenticated")
	}

	cfg.HTTPPort = 8080
	if v := strings.TrimSpace(os.Getenv("HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	cfg.ScoreLagDays = 92
	if v := strings.TrimSpace(os.Getenv("SCORE_LAG_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ScoreLagDays = n
		}
	}

	cfg.ScoreMaxStaleQuarters = 1
	if v := strings.TrimSpace(os.Getenv("SCORE_MAX_STALE_QUARTERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ScoreMaxStaleQuarters = n
		}
	}

	cfg.ScoreZClip = 5
	if v := strings.TrimSpace(os.Getenv("SCORE_Z_CLIP")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.ScoreZClip = n
		}
	}

	cfg.RollingWindowDays = 252
	if v := strings.TrimSpace(os.Getenv("ROLLING_WINDOW_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 {
			cfg.RollingWindowDays = n
		}
	}

	cfg.MinTrainObs = 126
	if v := strings.TrimSpace(os.Getenv("MIN_TRAIN_OBS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinTrainObs = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("SPLIT_DATE")); v != "" {
		if d, err := time.Parse("2006-01-02", v); err == nil {
			cfg.SplitDate = d.UTC()
		} else {
			log.Printf("Warning: invalid SPLIT_DATE=%q, will split at 70%% of the sample", v)
		}
	}

	cfg.ForecastHorizonDays = 21
	if v := strings.TrimSpace(os.Getenv("FORECAST_HORIZON_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ForecastHorizonDays = n
		}
	}

	cfg.MLIncludeComposite = strings.EqualFold(strings.TrimSpace(os.Getenv("ML_INCLUDE_COMPOSITE")), "true")
	cfg.BoostHorizonTarget = strings.EqualFold(strings.TrimSpace(os.Getenv("BOOST_HORIZON_TARGET")), "true")

	cfg.BoostRounds = 50
	if v := strings.TrimSpace(os.Getenv("BOOST_ROUNDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BoostRounds = n
		}
	}

	cfg.BacktestEntry = 0.02
	if v := strings.TrimSpace(os.Getenv("BACKTEST_ENTRY")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BacktestEntry = n
		}
	}

	cfg.BacktestExit = 0.0
	if v := strings.TrimSpace(os.Getenv("BACKTEST_EXIT")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BacktestExit = n
		}
	}
	if cfg.BacktestExit > cfg.BacktestEntry {
		log.Printf("Warning: BACKTEST_EXIT %.4f above BACKTEST_ENTRY %.4f, resetting to defaults", cfg.BacktestExit, cfg.BacktestEntry)
		cfg.BacktestEntry, cfg.BacktestExit = 0.02, 0.0
	}

	cfg.BacktestCostBps = 5
	if v := strings.TrimSpace(os.Getenv("BACKTEST_COST_BPS")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
			cfg.BacktestCostBps = n
		}
	}

	cfg.RefitHourUTC = 0
	if v := strings.TrimSpace(os.Getenv("REFIT_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.RefitHourUTC = n
		}
	}

	return cfg
}
