package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Rabbit RabbitConfig
	Mongo  MongoConfig
	Nalog  NalogConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RabbitConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	Exchange      string
	PrefetchCount int
	SourceQueue   string
	RetryMax      int
	RetryTTLSec   int
}

type MongoConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	AuthSource string
	ReplicaSet string
	TimeoutMS  int
}

type NalogConfig struct {
	URL          string
	TimeoutSec   int
	Retries      int
	RetryWaitSec int
}

type LogConfig struct {
	Level string
	JSON  bool
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "inn")
	v.SetDefault("rabbitmq.prefetch_count", 10)
	v.SetDefault("rabbitmq.source_queue", "request-inn")
	v.SetDefault("rabbitmq.retry_max", 3)
	v.SetDefault("rabbitmq.retry_ttl_sec", 60)

	v.SetDefault("mongo.host", "localhost")
	v.SetDefault("mongo.port", 27017)
	v.SetDefault("mongo.user", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.dbname", "inn")
	v.SetDefault("mongo.auth_source", "admin")
	v.SetDefault("mongo.replica_set", "")
	v.SetDefault("mongo.timeout_ms", 5000)

	v.SetDefault("nalog.url", "https://service.nalog.ru/inn-proc.do")
	v.SetDefault("nalog.timeout_sec", 30)
	v.SetDefault("nalog.retries", 3)
	v.SetDefault("nalog.retry_wait_sec", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Rabbit: RabbitConfig{
			Host:          v.GetString("rabbitmq.host"),
			Port:          v.GetInt("rabbitmq.port"),
			User:          v.GetString("rabbitmq.user"),
			Password:      v.GetString("rabbitmq.password"),
			VHost:         v.GetString("rabbitmq.vhost"),
			Exchange:      v.GetString("rabbitmq.exchange"),
			PrefetchCount: v.GetInt("rabbitmq.prefetch_count"),
			SourceQueue:   v.GetString("rabbitmq.source_queue"),
			RetryMax:      v.GetInt("rabbitmq.retry_max"),
			RetryTTLSec:   v.GetInt("rabbitmq.retry_ttl_sec"),
		},
		Mongo: MongoConfig{
			Host:       v.GetString("mongo.host"),
			Port:       v.GetInt("mongo.port"),
			User:       v.GetString("mongo.user"),
			Password:   v.GetString("mongo.password"),
			DBName:     v.GetString("mongo.dbname"),
			AuthSource: v.GetString("mongo.auth_source"),
			ReplicaSet: v.GetString("mongo.replica_set"),
			TimeoutMS:  v.GetInt("mongo.timeout_ms"),
		},
		Nalog: NalogConfig{
			URL:          v.GetString("nalog.url"),
			TimeoutSec:   v.GetInt("nalog.timeout_sec"),
			Retries:      v.GetInt("nalog.retries"),
			RetryWaitSec: v.GetInt("nalog.retry_wait_sec"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if cfg.Rabbit.SourceQueue == "" {
		return nil, fmt.Errorf("rabbitmq source queue name must not be empty")
	}
	if cfg.Nalog.Retries < 1 {
		return nil, fmt.Errorf("nalog retries must be at least 1, got %d", cfg.Nalog.Retries)
	}

	return cfg, nil
}

// RabbitDSN builds the AMQP connection string.
func (c *Config) RabbitDSN() string {
	vhost := c.Rabbit.VHost
	if !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.Rabbit.User, c.Rabbit.Password, c.Rabbit.Host, c.Rabbit.Port, vhost)
}

// MongoDSN builds the MongoDB connection string.
func (c *Config) MongoDSN() string {
	var creds string
	if c.Mongo.User != "" {
		creds = fmt.Sprintf("%s:%s@", c.Mongo.User, c.Mongo.Password)
	}
	dsn := fmt.Sprintf("mongodb://%s%s:%d/%s", creds, c.Mongo.Host, c.Mongo.Port, c.Mongo.AuthSource)
	if c.Mongo.ReplicaSet != "" {
		dsn += "?replicaSet=" + c.Mongo.ReplicaSet
	}
	return dsn
}

func (c *Config) MongoTimeout() time.Duration {
	return time.Duration(c.Mongo.TimeoutMS) * time.Millisecond
}

func (c *Config) NalogTimeout() time.Duration {
	return time.Duration(c.Nalog.TimeoutSec) * time.Second
}

func (c *Config) NalogRetryWait() time.Duration {
	return time.Duration(c.Nalog.RetryWaitSec) * time.Second
}

func (c *Config) RetryTTL() time.Duration {
	return time.Duration(c.Rabbit.RetryTTLSec) * time.Second
}
