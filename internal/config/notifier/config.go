package notifier_config

import (
	"time"

	"github.com/NordCoder/Pagewatch/internal/obs"
	pg "github.com/NordCoder/Pagewatch/internal/repository/postgres"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type KafkaIn struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

type SMTP struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Screenshots struct {
	Dir string `mapstructure:"dir"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig(app App) *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		Version:     app.Version,
		Env:         app.Env,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (lc *Log) AsLoggerConfig(app App) *obs.LogConfig {
	return &obs.LogConfig{
		Level:   lc.Level,
		Pretty:  lc.Pretty,
		Service: "pagewatch/" + app.Name,
		Env:     app.Env,
		Version: app.Version,
	}
}

type Config struct {
	App         App         `mapstructure:"app"`
	Log         Log         `mapstructure:"log"`
	OTEL        OTEL        `mapstructure:"otel"`
	DB          pg.Config   `mapstructure:"db"`
	In          KafkaIn     `mapstructure:"kafka_in"`
	SMTP        SMTP        `mapstructure:"smtp"`
	Server      Server      `mapstructure:"server"`
	Screenshots Screenshots `mapstructure:"screenshots"`
}
