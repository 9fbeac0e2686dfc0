package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores runtime configuration loaded from a .env file, an optional
// remindbot.yaml and environment variables.
type Config struct {
	BotName   string        `mapstructure:"BOT_NAME"`
	Recipient string        `mapstructure:"RECIPIENT"`
	Channel   string        `mapstructure:"IRC_CHANNEL"`
	Cooldown  time.Duration `mapstructure:"COOLDOWN"`
	AboutText string        `mapstructure:"ABOUT_TEXT"`

	CmdRemind string `mapstructure:"CMD_REMIND"`
	CmdDone   string `mapstructure:"CMD_DONE"`
	CmdList   string `mapstructure:"CMD_LIST"`
	CmdAbout  string `mapstructure:"CMD_ABOUT"`

	Transport      string        `mapstructure:"TRANSPORT"`
	ReconnectDelay time.Duration `mapstructure:"RECONNECT_DELAY"`

	IRCServer     string `mapstructure:"IRC_SERVER"`
	IRCPort       int    `mapstructure:"IRC_PORT"`
	IRCTLS        bool   `mapstructure:"IRC_TLS"`
	IRCNickSuffix string `mapstructure:"IRC_NICK_SUFFIX"`

	Store         string `mapstructure:"STORE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DataFile      string `mapstructure:"DATA_FILE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisKey      string `mapstructure:"REDIS_KEY"`

	BackupSchedule string `mapstructure:"BACKUP_SCHEDULE"`
	BackupPath     string `mapstructure:"BACKUP_PATH"`
	TimezoneName   string `mapstructure:"LOCAL_TIMEZONE"`

	Port                 string   `mapstructure:"PORT"`
	TwilioAccountSID     string   `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string   `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppNumber string   `mapstructure:"TWILIO_WHATSAPP_NUMBER"`
	TwilioPublicTo       []string `mapstructure:"TWILIO_PUBLIC_TO"`
	TwilioSendRate       float64  `mapstructure:"TWILIO_SEND_RATE"`
	TwilioWebhookURL     string   `mapstructure:"TWILIO_WEBHOOK_URL"`

	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	LocalTimezone *time.Location `mapstructure:"-"`
}

// Transports and store backends understood by the process.
const (
	TransportIRC      = "irc"
	TransportWhatsApp = "whatsapp"

	StoreSQL   = "sql"
	StoreRedis = "redis"
	StoreFile  = "file"
)

var defaults = map[string]any{
	"BOT_NAME":               "RemindBot",
	"RECIPIENT":              "",
	"IRC_CHANNEL":            "#gluster",
	"COOLDOWN":               "24h",
	"ABOUT_TEXT":             "",
	"CMD_REMIND":             "@remind",
	"CMD_DONE":               "@done",
	"CMD_LIST":               "@list",
	"CMD_ABOUT":              "@about",
	"TRANSPORT":              TransportIRC,
	"RECONNECT_DELAY":        "10s",
	"IRC_SERVER":             "irc.libera.chat",
	"IRC_PORT":               6667,
	"IRC_TLS":                false,
	"IRC_NICK_SUFFIX":        "^",
	"STORE":                  StoreSQL,
	"DATABASE_URL":           "",
	"DATA_FILE":              "remindbot.db",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"REDIS_KEY":              "remindbot:ledger",
	"BACKUP_SCHEDULE":        "",
	"BACKUP_PATH":            "remindbot-backup.json",
	"LOCAL_TIMEZONE":         "Local",
	"PORT":                   "8080",
	"TWILIO_ACCOUNT_SID":     "",
	"TWILIO_AUTH_TOKEN":      "",
	"TWILIO_WHATSAPP_NUMBER": "",
	"TWILIO_PUBLIC_TO":       []string{},
	"TWILIO_SEND_RATE":       1.0,
	"TWILIO_WEBHOOK_URL":     "",
	"ENV":                    "development",
	"LOG_LEVEL":              "",
}

// Load reads configuration values and prepares defaults where applicable.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("remindbot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read remindbot.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	location, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", cfg.TimezoneName, err)
		location = time.Local
	}
	cfg.LocalTimezone = location

	return &cfg, nil
}

// Validate reports settings the process cannot run without.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Recipient) == "" {
		problems = append(problems, "RECIPIENT is required")
	}
	if strings.TrimSpace(c.BotName) == "" {
		problems = append(problems, "BOT_NAME must not be empty")
	}

	switch c.Transport {
	case TransportIRC:
		if c.IRCServer == "" || c.Channel == "" {
			problems = append(problems, "IRC_SERVER and IRC_CHANNEL are required for the irc transport")
		}
	case TransportWhatsApp:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioWhatsAppNumber == "" {
			problems = append(problems, "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_WHATSAPP_NUMBER are required for the whatsapp transport")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown TRANSPORT %q", c.Transport))
	}

	switch c.Store {
	case StoreSQL, StoreFile:
		if c.Store == StoreFile && c.DataFile == "" {
			problems = append(problems, "DATA_FILE is required for the file store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required for the redis store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE %q", c.Store))
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
