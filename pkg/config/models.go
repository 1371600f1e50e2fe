package config

import "time"

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Transport TransportConfig `mapstructure:"transport"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Session   SessionConfig   `mapstructure:"session"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Widget    WidgetConfig    `mapstructure:"widget"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type BackendConfig struct {
	HTTPBase      string        `mapstructure:"httpBase"`
	WSBase        string        `mapstructure:"wsBase"`
	ClientVersion string        `mapstructure:"clientVersion"`
	HTTPTimeout   time.Duration `mapstructure:"httpTimeout"`
}

type MessagingConfig struct {
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	PortBuffer     int           `mapstructure:"portBuffer"`
}

type SessionConfig struct {
	HeartbeatInterval    time.Duration `mapstructure:"heartbeatInterval"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnectBaseDelay"`
	MaxReconnectAttempts int           `mapstructure:"maxReconnectAttempts"`
	DialTimeout          time.Duration `mapstructure:"dialTimeout"`
}

type MailboxConfig struct {
	QueueTTL    time.Duration `mapstructure:"queueTTL"`
	CallbackTTL time.Duration `mapstructure:"callbackTTL"`
}

type WidgetConfig struct {
	HighlightClass    string        `mapstructure:"highlightClass"`
	HighlightDuration time.Duration `mapstructure:"highlightDuration"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
