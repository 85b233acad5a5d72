package config

import "time"

var (
	ServiceVersion string
	CommitSHA      string
)

type (
	ServiceConfig struct {
		App        App        `json:"app"`
		Logging    Logging    `json:"logging"`
		Monitor    Monitor    `json:"monitor"`
		Lock       Lock       `json:"lock"`
		Identify   Identify   `json:"identify"`
		Bootloader Bootloader `json:"bootloader"`
		Store      Store      `json:"store"`
		Transport  Transport  `json:"transport"`
	}

	App struct {
		ServiceName    string `envconfig:"QBMIDI_SERVICE_NAME" default:"qbmidi" json:"service_name"`
		ServiceVersion string `json:"service_version"`
		CommitSHA      string `json:"commit_sha"`
	}

	Logging struct {
		Level  string `envconfig:"QBMIDI_LOG_LEVEL" default:"info" json:"level"`
		Format string `envconfig:"QBMIDI_LOG_FORMAT" default:"console" json:"format"`
	}

	Monitor struct {
		Interval         time.Duration `envconfig:"QBMIDI_MONITOR_INTERVAL" default:"1s" json:"interval"`
		RetryJitter      time.Duration `envconfig:"QBMIDI_MONITOR_RETRY_JITTER" default:"100ms" json:"retry_jitter"`
		RetryDelay       time.Duration `envconfig:"QBMIDI_MONITOR_RETRY_DELAY" default:"200ms" json:"retry_delay"`
		RequestTimeout   time.Duration `envconfig:"QBMIDI_MONITOR_REQUEST_TIMEOUT" default:"60s" json:"request_timeout"`
		IdentifyInterval time.Duration `envconfig:"QBMIDI_MONITOR_IDENTIFY_INTERVAL" default:"5s" json:"identify_interval"`
	}

	Lock struct {
		Key         string        `envconfig:"QBMIDI_LOCK_KEY" default:"qbmidi:lock" json:"key"`
		StaleAfter  time.Duration `envconfig:"QBMIDI_LOCK_STALE_AFTER" default:"45s" json:"stale_after"`
		VerifyDelay time.Duration `envconfig:"QBMIDI_LOCK_VERIFY_DELAY" default:"10ms" json:"verify_delay"`
		Attempts    int           `envconfig:"QBMIDI_LOCK_ATTEMPTS" default:"225" json:"attempts"`
		RetryDelay  time.Duration `envconfig:"QBMIDI_LOCK_RETRY_DELAY" default:"200ms" json:"retry_delay"`
	}

	Identify struct {
		UUIDSamples   int           `envconfig:"QBMIDI_IDENTIFY_UUID_SAMPLES" default:"100" json:"uuid_samples"`
		StatusSamples int           `envconfig:"QBMIDI_IDENTIFY_STATUS_SAMPLES" default:"20" json:"status_samples"`
		ListenWindow  time.Duration `envconfig:"QBMIDI_IDENTIFY_LISTEN_WINDOW" default:"10ms" json:"listen_window"`
		EchoWindow    time.Duration `envconfig:"QBMIDI_IDENTIFY_ECHO_WINDOW" default:"30ms" json:"echo_window"`
	}

	Bootloader struct {
		ReconnectAttempts int           `envconfig:"QBMIDI_BOOTLOADER_RECONNECT_ATTEMPTS" default:"40" json:"reconnect_attempts"`
		ReconnectDelay    time.Duration `envconfig:"QBMIDI_BOOTLOADER_RECONNECT_DELAY" default:"250ms" json:"reconnect_delay"`
		SettleDelay       time.Duration `envconfig:"QBMIDI_BOOTLOADER_SETTLE_DELAY" default:"3s" json:"settle_delay"`
		TransferAttempts  int           `envconfig:"QBMIDI_BOOTLOADER_TRANSFER_ATTEMPTS" default:"10" json:"transfer_attempts"`
		TransferBackoff   time.Duration `envconfig:"QBMIDI_BOOTLOADER_TRANSFER_BACKOFF" default:"1s" json:"transfer_backoff"`
		PaceEvery         int           `envconfig:"QBMIDI_BOOTLOADER_PACE_EVERY" default:"1000" json:"pace_every"`
		PaceDelay         time.Duration `envconfig:"QBMIDI_BOOTLOADER_PACE_DELAY" default:"100ms" json:"pace_delay"`
	}

	Store struct {
		Backend       string        `envconfig:"QBMIDI_STORE_BACKEND" default:"memory" json:"backend"`
		RedisAddress  string        `envconfig:"QBMIDI_REDIS_ADDRESS" default:"localhost:6379" json:"redis_address"`
		RedisPassword string        `envconfig:"QBMIDI_REDIS_PASSWORD" default:"" json:"redis_password,omitempty"`
		RedisDB       int           `envconfig:"QBMIDI_REDIS_DB" default:"0" json:"redis_db"`
		RedisPrefix   string        `envconfig:"QBMIDI_REDIS_PREFIX" default:"" json:"redis_prefix"`
		RedisChannel  string        `envconfig:"QBMIDI_REDIS_CHANNEL" default:"qbmidi:changes" json:"redis_channel"`
		SQLitePath    string        `envconfig:"QBMIDI_SQLITE_PATH" default:"qbmidi.db" json:"sqlite_path"`
		PollInterval  time.Duration `envconfig:"QBMIDI_STORE_POLL_INTERVAL" default:"250ms" json:"poll_interval"`
	}

	Transport struct {
		Kind     string   `envconfig:"QBMIDI_TRANSPORT" default:"serial" json:"kind"`
		Match    []string `envconfig:"QBMIDI_TRANSPORT_MATCH" default:"Quirkbot" json:"match"`
		BaudRate int      `envconfig:"QBMIDI_TRANSPORT_BAUD_RATE" default:"115200" json:"baud_rate"`
		AllPorts bool     `envconfig:"QBMIDI_TRANSPORT_ALL_PORTS" default:"false" json:"all_ports"`
	}
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"

	TransportSerial    = "serial"
	TransportSimulator = "simulator"
)
