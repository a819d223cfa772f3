package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port     int    `mapstructure:"port"`
		LogLevel string `mapstructure:"logLevel"`
		// gin 模式：debug / release / test
		Mode string `mapstructure:"mode"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN             string        `mapstructure:"dsn"`
		MaxOpenConns    int           `mapstructure:"maxOpenConns"`
		MaxIdleConns    int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
		AutoMigrate     bool          `mapstructure:"autoMigrate"`
	} `mapstructure:"mysql"`
	Redis struct {
		// 为空时使用进程内缓存
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
		Prefix   string   `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Kafka struct {
		// 为空时不推送事件
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queueSize"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"maxRetry"`
		BaseBackoff time.Duration `mapstructure:"baseBackoff"`
		MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	} `mapstructure:"kafka"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	Cors struct {
		AllowOrigins []string `mapstructure:"allowOrigins"`
	} `mapstructure:"cors"`
	Collab struct {
		HistoryLimit     int           `mapstructure:"historyLimit"`
		QueueWaitTimeout time.Duration `mapstructure:"queueWaitTimeout"`
		HoldTimeout      time.Duration `mapstructure:"holdTimeout"`
		ShutdownTimeout  time.Duration `mapstructure:"shutdownTimeout"`
		MaxInflightOps   int           `mapstructure:"maxInflightOps"`
		IdleTimeout      time.Duration `mapstructure:"idleTimeout"`   // 没有会话的文档空闲多久后落盘
		SweepInterval    time.Duration `mapstructure:"sweepInterval"` // 空闲清理的间隔
	} `mapstructure:"collab"`
	Cache struct {
		SessionTTL   time.Duration `mapstructure:"sessionTTL"`
		DocumentTTL  time.Duration `mapstructure:"documentTTL"`
		Jitter       time.Duration `mapstructure:"jitter"`
		Workers      int           `mapstructure:"workers"`
		QueueSize    int           `mapstructure:"queueSize"`
		ReadTimeout  time.Duration `mapstructure:"readTimeout"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	} `mapstructure:"cache"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8082)
	v.SetDefault("running.logLevel", "info")
	v.SetDefault("running.mode", "release")

	v.SetDefault("mysql.maxOpenConns", 20)
	v.SetDefault("mysql.maxIdleConns", 10)
	v.SetDefault("mysql.connMaxLifetime", time.Hour)

	v.SetDefault("redis.prefix", "collab:")

	v.SetDefault("kafka.topic", "doc-events")
	v.SetDefault("kafka.queueSize", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.maxRetry", 3)
	v.SetDefault("kafka.baseBackoff", 50*time.Millisecond)
	v.SetDefault("kafka.maxBackoff", time.Second)

	v.SetDefault("auth.jwtSecret", "dev-secret")
	v.SetDefault("cors.allowOrigins", []string{"http://localhost:5173"})

	v.SetDefault("collab.historyLimit", 100)
	v.SetDefault("collab.queueWaitTimeout", 5*time.Second)
	v.SetDefault("collab.holdTimeout", 3*time.Second)
	v.SetDefault("collab.shutdownTimeout", 10*time.Second)
	v.SetDefault("collab.maxInflightOps", 100)
	v.SetDefault("collab.idleTimeout", 10*time.Minute)
	v.SetDefault("collab.sweepInterval", time.Minute)

	v.SetDefault("cache.sessionTTL", 2*time.Minute)
	v.SetDefault("cache.documentTTL", 30*time.Minute)
	v.SetDefault("cache.jitter", 5*time.Minute)
	v.SetDefault("cache.workers", 4)
	v.SetDefault("cache.queueSize", 1024)
	v.SetDefault("cache.readTimeout", 300*time.Millisecond)
	v.SetDefault("cache.writeTimeout", time.Second)
}

// Load 读取 collabConfig.yaml；path 非空时只读该文件
// 环境变量 COLLAB_MYSQL_DSN 这类形式覆盖同名配置
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("collabConfig")
		v.SetConfigType("yaml")
		// 兼容从项目根目录或 backend 目录启动
		v.AddConfigPath("./backend/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// 没有配置文件时只用默认值和环境变量
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
