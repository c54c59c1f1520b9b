package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Драйверы хранилища
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Ops struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"ops"`
	DB struct {
		Driver     string `mapstructure:"driver"`
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		DBName     string `mapstructure:"name"`
		Migrations string `mapstructure:"migrations"`
	} `mapstructure:"db"`
	JWT struct {
		SecretKey string `mapstructure:"secret_key"`
	} `mapstructure:"jwt"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	Reminder struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"reminder"`
	RateLimit struct {
		Requests int           `mapstructure:"requests"`
		Window   time.Duration `mapstructure:"window"`
	} `mapstructure:"ratelimit"`
	Crypto struct {
		ContactKey string `mapstructure:"contact_key"` // hex, 32 байта; пусто - контакты хранятся как есть
	} `mapstructure:"crypto"`
	Log struct {
		Dir string `mapstructure:"dir"` // пусто - только stdout
	} `mapstructure:"log"`
}

// NewConfig создает новый экземпляр конфигурации из переменных окружения
// и, если задан CONFIG_FILE, из файла
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// SERVER_PORT -> server.port и т.д.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults задает значения по умолчанию; без них viper не видит ключи из окружения
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("ops.port", 8081)

	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "fintracker")
	v.SetDefault("db.migrations", "file://migrations")

	v.SetDefault("jwt.secret_key", "your-secret-key-here")

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "your-email@gmail.com")
	v.SetDefault("smtp.password", "your-app-password")
	v.SetDefault("smtp.from", "your-email@gmail.com")

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.interval", time.Hour)

	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("crypto.contact_key", "")
	v.SetDefault("log.dir", "")
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("неверный формат порта сервера: %d", c.Server.Port)
	}
	if c.Ops.Port <= 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("неверный формат порта служебного сервера: %d", c.Ops.Port)
	}
	if c.Ops.Port == c.Server.Port {
		return fmt.Errorf("порты API и служебного сервера совпадают: %d", c.Server.Port)
	}
	switch c.DB.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("неизвестный драйвер хранилища: %q", c.DB.Driver)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("не задан секрет JWT")
	}
	if c.Reminder.Enabled && c.Reminder.Interval <= 0 {
		return fmt.Errorf("интервал напоминаний должен быть больше 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("неверные параметры ограничения запросов")
	}
	return nil
}

// DSN возвращает строку подключения gorm/postgres
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.DBName,
	)
}

// MigrateURL возвращает URL базы данных для golang-migrate
func (c *Config) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User,
		c.DB.Password,
		c.DB.Host,
		c.DB.Port,
		c.DB.DBName,
	)
}
