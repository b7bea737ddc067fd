// internal/infrastructure/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"supply-demand-zone-engine/pkg/period"

	"github.com/joho/godotenv"
)

// ============================================
// КОНФИГУРАЦИЯ БАЗЫ ДАННЫХ
// ============================================

// DatabaseConfig - конфигурация PostgreSQL (журнал событий)
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	// Журнал событий опционален: при выключенной БД движок работает без аудита
	Enabled bool

	// Настройки пула соединений
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig - конфигурация Redis (зоны и окно дедупликации)
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// При выключенном Redis зоны и дедуп живут в памяти процесса
	Enabled bool

	// Настройки пула соединений
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

// ExchangeConfig - конфигурация источника рыночных данных
type ExchangeConfig struct {
	BaseURL        string
	Category       string // linear / spot
	RequestTimeout time.Duration
	RateLimitDelay time.Duration // пауза между запросами к API
	BarCacheTTL    time.Duration // TTL кэша серий баров
	TickerCacheTTL time.Duration // TTL кэша последней цены
}

// TelegramConfig - конфигурация Telegram уведомлений
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

// KafkaConfig - конфигурация Kafka уведомлений
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// DetectionConfig - параметры детектора зон
type DetectionConfig struct {
	LookbackPeriods          int
	SwingStrength            int
	MinZoneSizePct           float64
	MaxZoneSizePct           float64
	MinConsolidationBars     int
	MaxConsolidationBars     int
	MaxConsolidationRangePct float64
	MinVolumeRatio           float64
	MinImpulseMultiple       float64
}

// ScoringConfig - параметры скоринга и машины состояний зон
type ScoringConfig struct {
	AgeHorizonBars    int
	WeakThreshold     int
	BreakTolerancePct float64
}

// MonitoringConfig - параметры монитора цены
type MonitoringConfig struct {
	ProximityPct float64
}

// DispatchConfig - параметры диспетчера событий
type DispatchConfig struct {
	DedupWindow   time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	JitterPct     float64
}

// SchedulerConfig - параметры планировщика сканирования
type SchedulerConfig struct {
	Symbols            []string
	Timeframe          string
	BarDuration        time.Duration
	DetectionInterval  time.Duration
	MonitoringInterval time.Duration
	DetectionTimeout   time.Duration
	MonitoringTimeout  time.Duration
	WorkerCount        int
	MaxZoneAge         time.Duration
}

// LoggingConfig - конфигурация логирования
type LoggingConfig struct {
	Level     string
	FilePath  string
	DebugMode bool
}

// ============================================
// ОСНОВНАЯ КОНФИГУРАЦИЯ ПРИЛОЖЕНИЯ
// ============================================

// Config - основная структура конфигурации движка зон
type Config struct {
	Environment string
	Version     string

	Database DatabaseConfig
	Redis    RedisConfig
	Exchange ExchangeConfig
	Telegram TelegramConfig
	Kafka    KafkaConfig

	Detection  DetectionConfig
	Scoring    ScoringConfig
	Monitoring MonitoringConfig
	Dispatch   DispatchConfig
	Scheduler  SchedulerConfig

	Logging LoggingConfig
}

// LoadConfig загружает конфигурацию из .env файла и переменных окружения
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		fmt.Printf("⚠️  Config file not found, using environment variables\n")
	}

	cfg := &Config{}

	// ======================
	// ОСНОВНЫЕ НАСТРОЙКИ
	// ======================
	cfg.Environment = getEnv("ENVIRONMENT", "production")
	cfg.Version = getEnv("VERSION", "1.0.0")

	// ======================
	// БАЗА ДАННЫХ (журнал событий)
	// ======================
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "")
	cfg.Database.Password = getEnv("DB_PASSWORD", "")
	cfg.Database.Name = getEnv("DB_NAME", "")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 10)
	cfg.Database.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.Database.MaxConnIdleTime = getEnvDuration("DB_MAX_CONN_IDLE_TIME", 10*time.Minute)
	cfg.Database.Enabled = getEnvBool("DB_ENABLED", false)

	// ======================
	// REDIS (зоны и дедупликация)
	// ======================
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnvInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)
	cfg.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", 5)
	cfg.Redis.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", 3)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)
	cfg.Redis.PoolTimeout = getEnvDuration("REDIS_POOL_TIMEOUT", 4*time.Second)
	cfg.Redis.IdleTimeout = getEnvDuration("REDIS_IDLE_TIMEOUT", 5*time.Minute)
	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", true)

	// ======================
	// БИРЖА
	// ======================
	cfg.Exchange.BaseURL = getEnv("BYBIT_API_URL", "https://api.bybit.com")
	cfg.Exchange.Category = getEnv("FUTURES_CATEGORY", "linear")
	cfg.Exchange.RequestTimeout = getEnvDuration("EXCHANGE_REQUEST_TIMEOUT", 10*time.Second)
	cfg.Exchange.RateLimitDelay = getEnvDuration("EXCHANGE_RATE_LIMIT_DELAY", 100*time.Millisecond)
	cfg.Exchange.BarCacheTTL = getEnvDuration("BAR_CACHE_TTL", 5*time.Minute)
	cfg.Exchange.TickerCacheTTL = getEnvDuration("TICKER_CACHE_TTL", 5*time.Second)

	// ======================
	// УВЕДОМЛЕНИЯ
	// ======================
	cfg.Telegram.Enabled = getEnvBool("TELEGRAM_ENABLED", false)
	cfg.Telegram.BotToken = getEnv("TG_API_KEY", "")
	cfg.Telegram.ChatID = getEnv("TG_CHAT_ID", "")

	cfg.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", false)
	cfg.Kafka.Brokers = parseStringList(getEnv("KAFKA_BROKERS", "localhost:9092"))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "zone-events")

	// ======================
	// ДЕТЕКЦИЯ ЗОН
	// ======================
	cfg.Detection.LookbackPeriods = getEnvInt("ZONE_LOOKBACK_PERIODS", 100)
	cfg.Detection.SwingStrength = getEnvInt("ZONE_SWING_STRENGTH", 5)
	cfg.Detection.MinZoneSizePct = getEnvFloat("ZONE_MIN_SIZE_PCT", 0.3)
	cfg.Detection.MaxZoneSizePct = getEnvFloat("ZONE_MAX_SIZE_PCT", 10.0)
	cfg.Detection.MinConsolidationBars = getEnvInt("ZONE_MIN_CONSOLIDATION_BARS", 3)
	cfg.Detection.MaxConsolidationBars = getEnvInt("ZONE_MAX_CONSOLIDATION_BARS", 10)
	cfg.Detection.MaxConsolidationRangePct = getEnvFloat("ZONE_MAX_CONSOLIDATION_RANGE_PCT", 5.0)
	cfg.Detection.MinVolumeRatio = getEnvFloat("ZONE_MIN_VOLUME_RATIO", 1.2)
	cfg.Detection.MinImpulseMultiple = getEnvFloat("ZONE_MIN_IMPULSE_MULTIPLE", 1.0)

	// ======================
	// СКОРИНГ И СОСТОЯНИЯ
	// ======================
	cfg.Scoring.AgeHorizonBars = getEnvInt("ZONE_AGE_HORIZON_BARS", 200)
	cfg.Scoring.WeakThreshold = getEnvInt("ZONE_WEAK_THRESHOLD", 3)
	cfg.Scoring.BreakTolerancePct = getEnvFloat("ZONE_BREAK_TOLERANCE_PCT", 0.5)

	// ======================
	// МОНИТОРИНГ ЦЕНЫ
	// ======================
	cfg.Monitoring.ProximityPct = getEnvFloat("ZONE_PROXIMITY_PCT", 2.0)

	// ======================
	// ДИСПЕТЧЕР СОБЫТИЙ
	// ======================
	cfg.Dispatch.DedupWindow = getEnvDuration("EVENT_DEDUP_WINDOW", 15*time.Minute)
	cfg.Dispatch.MaxAttempts = getEnvInt("EVENT_MAX_ATTEMPTS", 3)
	cfg.Dispatch.BaseDelay = getEnvDuration("EVENT_RETRY_BASE_DELAY", 1*time.Second)
	cfg.Dispatch.BackoffFactor = getEnvFloat("EVENT_RETRY_BACKOFF_FACTOR", 2.0)
	cfg.Dispatch.JitterPct = getEnvFloat("EVENT_RETRY_JITTER_PCT", 0.2)

	// ======================
	// ПЛАНИРОВЩИК
	// ======================
	cfg.Scheduler.Symbols = parseStringList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"))
	cfg.Scheduler.Timeframe = getEnv("TIMEFRAME", period.Period1h)
	// Длительность бара выводится из таймфрейма
	if barDur, err := period.StringToDuration(cfg.Scheduler.Timeframe); err == nil {
		cfg.Scheduler.BarDuration = barDur
	}
	cfg.Scheduler.DetectionInterval = getEnvDuration("DETECTION_INTERVAL", 1*time.Hour)
	cfg.Scheduler.MonitoringInterval = getEnvDuration("MONITORING_INTERVAL", 1*time.Minute)
	cfg.Scheduler.DetectionTimeout = getEnvDuration("DETECTION_TIMEOUT", 30*time.Second)
	cfg.Scheduler.MonitoringTimeout = getEnvDuration("MONITORING_TIMEOUT", 10*time.Second)
	cfg.Scheduler.WorkerCount = getEnvInt("WORKER_COUNT", 4)
	cfg.Scheduler.MaxZoneAge = getEnvDuration("MAX_ZONE_AGE", 0)

	// ======================
	// ЛОГИРОВАНИЕ
	// ======================
	cfg.Logging.Level = getEnv("LOG_LEVEL", "INFO")
	cfg.Logging.FilePath = getEnv("LOG_FILE", "logs/engine.log")
	cfg.Logging.DebugMode = getEnvBool("DEBUG_MODE", false)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}

	return cfg, nil
}

// validate собирает все ошибки конфигурации в одно сообщение
func (c *Config) validate() error {
	var validationErrors []string

	// Проверка символов и таймфрейма
	if len(c.Scheduler.Symbols) == 0 {
		validationErrors = append(validationErrors, "SYMBOLS не может быть пустым")
	}
	if !period.IsValidPeriod(c.Scheduler.Timeframe) {
		validationErrors = append(validationErrors, "TIMEFRAME не поддерживается")
	}
	if c.Scheduler.WorkerCount < 1 {
		validationErrors = append(validationErrors, "WORKER_COUNT должен быть ≥ 1")
	}

	// Проверка Telegram если включен
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			validationErrors = append(validationErrors, "TG_API_KEY is required when Telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			validationErrors = append(validationErrors, "TG_CHAT_ID is required when Telegram is enabled")
		}
	}

	// Проверка Kafka если включен
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			validationErrors = append(validationErrors, "KAFKA_BROKERS is required when Kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			validationErrors = append(validationErrors, "KAFKA_TOPIC is required when Kafka is enabled")
		}
	}

	// Проверка настроек базы данных если включена
	if c.Database.Enabled {
		if c.Database.Host == "" {
			validationErrors = append(validationErrors, "DB_HOST is required")
		}
		if c.Database.Port <= 0 {
			validationErrors = append(validationErrors, "DB_PORT must be positive")
		}
		if c.Database.User == "" {
			validationErrors = append(validationErrors, "DB_USER is required")
		}
		if c.Database.Name == "" {
			validationErrors = append(validationErrors, "DB_NAME is required")
		}
	}

	// Проверка параметров детекции (детальную валидацию делает сам детектор,
	// здесь только то, что ломает расчёт таймаутов)
	if c.Scheduler.DetectionInterval <= 0 || c.Scheduler.MonitoringInterval <= 0 {
		validationErrors = append(validationErrors, "интервалы циклов должны быть положительными")
	}

	if len(validationErrors) > 0 {
		errMsg := strings.Join(validationErrors, "; ")
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

// ============================================
// ВСПОМОГАТЕЛЬНЫЕ МЕТОДЫ
// ============================================

// GetPostgresDSN возвращает DSN для подключения к PostgreSQL
func (c *Config) GetPostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// GetRedisAddress возвращает адрес Redis в формате host:port
func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// IsDev возвращает true для окружения разработки
func (c *Config) IsDev() bool {
	return strings.ToLower(c.Environment) == "development"
}

// PrintSummary выводит сводку конфигурации при старте
func (c *Config) PrintSummary() {
	log.Printf("📋 Конфигурация движка зон:")
	log.Printf("   • Окружение: %s (v%s)", c.Environment, c.Version)
	log.Printf("   • Уровень логирования: %s", c.Logging.Level)
	log.Printf("   • Символы: %s", strings.Join(c.Scheduler.Symbols, ", "))
	log.Printf("   • Таймфрейм: %s (бар %v)", c.Scheduler.Timeframe, c.Scheduler.BarDuration)
	log.Printf("   • Детекция каждые %v, мониторинг каждые %v (воркеров: %d)",
		c.Scheduler.DetectionInterval, c.Scheduler.MonitoringInterval, c.Scheduler.WorkerCount)

	log.Printf("   • Детектор:")
	log.Printf("     - Lookback: %d баров, сила свинга: %d", c.Detection.LookbackPeriods, c.Detection.SwingStrength)
	log.Printf("     - Размер зоны: %.2f%%-%.2f%%", c.Detection.MinZoneSizePct, c.Detection.MaxZoneSizePct)
	log.Printf("     - Объём: ≥%.2fx, импульс: ≥%.2fx", c.Detection.MinVolumeRatio, c.Detection.MinImpulseMultiple)

	log.Printf("   • События: окно дедупа %v, попыток %d", c.Dispatch.DedupWindow, c.Dispatch.MaxAttempts)

	log.Printf("   • Redis: %s (DB: %d, Pool: %d, включен: %v)",
		c.GetRedisAddress(), c.Redis.DB, c.Redis.PoolSize, c.Redis.Enabled)
	if c.Database.Enabled {
		log.Printf("   • PostgreSQL: %s:%d/%s", c.Database.Host, c.Database.Port, c.Database.Name)
	} else {
		log.Printf("   • PostgreSQL: выключен (журнал событий не ведётся)")
	}

	log.Printf("   • Telegram включен: %v", c.Telegram.Enabled)
	if c.Telegram.Enabled {
		token := c.Telegram.BotToken
		if len(token) > 10 {
			token = token[:10] + "..." + token[len(token)-10:]
		}
		log.Printf("   • Telegram Token: %s", token)
		log.Printf("   • Telegram Chat ID: %s", c.Telegram.ChatID)
	}
	log.Printf("   • Kafka включен: %v", c.Kafka.Enabled)
	if c.Kafka.Enabled {
		log.Printf("   • Kafka: %s → %s", strings.Join(c.Kafka.Brokers, ","), c.Kafka.Topic)
	}
}

// ============================================
// ВСПОМОГАТЕЛЬНЫЕ ФУНКЦИИ
// ============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func parseStringList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
