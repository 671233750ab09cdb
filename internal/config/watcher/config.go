package watcher_config

import (
	"time"

	"github.com/NordCoder/Pagewatch/internal/obs"
	pg "github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/summarizer"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

func (s *Server) Timeouts() obs.ServerTimeouts {
	return obs.ServerTimeouts{Read: s.ReadTimeout, Write: s.WriteTimeout, Idle: s.IdleTimeout}
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

type Kafka struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	Partitions int      `mapstructure:"partitions"`
}

type Outbox struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	Wait          time.Duration `mapstructure:"wait"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

type Sched struct {
	Tick          time.Duration `mapstructure:"tick"`
	VisualWorkers int           `mapstructure:"visual_workers"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

type Browser struct {
	ExecPath   string        `mapstructure:"exec_path"`
	Headless   bool          `mapstructure:"headless"`
	NoSandbox  bool          `mapstructure:"no_sandbox"`
	UserAgent  string        `mapstructure:"user_agent"`
	WindowW    int           `mapstructure:"window_w"`
	WindowH    int           `mapstructure:"window_h"`
	LaunchWait time.Duration `mapstructure:"launch_wait"`
}

type Pool struct {
	Size            int           `mapstructure:"size"`
	InteractiveSize int           `mapstructure:"interactive_size"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ErrorThreshold  int           `mapstructure:"error_threshold"`
	Browser         Browser       `mapstructure:"browser"`
}

type Pipeline struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	OverlayTimeout    time.Duration `mapstructure:"overlay_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	PixelThreshold    float64       `mapstructure:"pixel_threshold"`
	SummaryTimeout    time.Duration `mapstructure:"summary_timeout"`
	NotifyFallbackTo  string        `mapstructure:"notify_fallback_to"`
}

type Pricing struct {
	DefaultCurrency string   `mapstructure:"default_currency"`
	Selectors       []string `mapstructure:"selectors"`
}

type Screenshots struct {
	Dir string `mapstructure:"dir"`
}

type Config struct {
	App         App               `mapstructure:"app"`
	Log         Log               `mapstructure:"log"`
	OTEL        OTEL              `mapstructure:"otel"`
	DB          pg.Config         `mapstructure:"db"`
	Kafka       Kafka             `mapstructure:"kafka"`
	Outbox      Outbox            `mapstructure:"outbox"`
	Server      Server            `mapstructure:"server"`
	Sched       Sched             `mapstructure:"sched"`
	Pool        Pool              `mapstructure:"pool"`
	Pipeline    Pipeline          `mapstructure:"pipeline"`
	Pricing     Pricing           `mapstructure:"pricing"`
	Screenshots Screenshots       `mapstructure:"screenshots"`
	Summarizer  summarizer.Config `mapstructure:"summarizer"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
