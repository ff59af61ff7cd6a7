package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Laky-64/gologging"
	"github.com/joho/godotenv"
)

// ErrMissingAPIURL is returned when an operation needs the transcoding API but API_URL is unset.
var ErrMissingAPIURL = errors.New("API_URL is not configured")

// BotConfig holds the configuration of the resolution pipeline.
type BotConfig struct {
	ApiUrl          string        // ApiUrl is the base URL of the transcoding API.
	ApiKey          string        // ApiKey is sent as X-API-Key to ApiUrl only.
	DownloadsDir    string        // DownloadsDir is where fetched media files are stored.
	ApiId           int32         // ApiId is the Telegram API ID.
	ApiHash         string        // ApiHash is the Telegram API hash.
	Token           string        // Token is the bot token used for Telegram asset fetches.
	SessionFile     string        // SessionFile is where the Telegram session is persisted.
	MongoUri        string        // MongoUri enables the attempt log when set.
	DbName          string        // DbName is the name of the database.
	UserAgent       string        // UserAgent is the default User-Agent header.
	RequestTimeout  time.Duration // RequestTimeout bounds each JSON/text request attempt.
	DownloadTimeout time.Duration // DownloadTimeout bounds a whole streaming download.
	MaxRetries      int           // MaxRetries is the number of attempts for JSON requests.
	BackoffFactor   float64       // BackoffFactor scales the exponential backoff in seconds.
	TitleLimit      int           // TitleLimit is the display bound applied to search titles.
	PlaylistLimit   int           // PlaylistLimit caps the number of playlist entries resolved.
	LogLevel        string        // LogLevel is one of debug, info, warn, error.
}

// LoadConfig reads the configuration from the environment, loading a .env file first if present.
func LoadConfig() (*BotConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		gologging.WarnF("Failed to load .env: %v", err)
	}

	conf := &BotConfig{
		ApiUrl:          strings.TrimRight(os.Getenv("API_URL"), "/"),
		ApiKey:          os.Getenv("API_KEY"),
		DownloadsDir:    getEnvStr("DOWNLOADS_DIR", "downloads"),
		ApiId:           getEnvInt32("API_ID", 0),
		ApiHash:         os.Getenv("API_HASH"),
		Token:           os.Getenv("TOKEN"),
		SessionFile:     getEnvStr("SESSION_FILE", "bot.dat"),
		MongoUri:        os.Getenv("MONGO_URI"),
		DbName:          getEnvStr("DB_NAME", "MusicBot"),
		UserAgent:       getEnvStr("USER_AGENT", "TgMusicBot/1.0"),
		RequestTimeout:  getEnvSeconds("REQUEST_TIMEOUT", 120*time.Second),
		DownloadTimeout: getEnvSeconds("DOWNLOAD_TIMEOUT", 300*time.Second),
		MaxRetries:      getEnvInt("MAX_RETRIES", 2),
		BackoffFactor:   getEnvFloat("BACKOFF_FACTOR", 1.0),
		TitleLimit:      getEnvInt("TITLE_LIMIT", 25),
		PlaylistLimit:   getEnvInt("PLAYLIST_LIMIT", 20),
		LogLevel:        strings.ToLower(getEnvStr("LOG_LEVEL", "info")),
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// HasTelegram reports whether credentials for Telegram asset fetches are present.
func (c *BotConfig) HasTelegram() bool {
	return c.ApiId != 0 && c.ApiHash != "" && c.Token != ""
}

// RequireAPI returns ErrMissingAPIURL when the transcoding API is not configured.
func (c *BotConfig) RequireAPI() error {
	if c.ApiUrl == "" {
		return ErrMissingAPIURL
	}
	return nil
}

// validate checks the configuration and creates the downloads directory.
func (c *BotConfig) validate() error {
	var problems []string

	if c.ApiUrl != "" {
		u, err := url.Parse(c.ApiUrl)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, "API_URL must be an absolute URL")
		}
	}

	telegram := []bool{c.ApiId != 0, c.ApiHash != "", c.Token != ""}
	if anyTrue(telegram) && !allTrue(telegram) {
		problems = append(problems, "API_ID, API_HASH and TOKEN must be set together")
	}

	if c.MaxRetries < 1 {
		problems = append(problems, "MAX_RETRIES must be at least 1")
	}
	if c.BackoffFactor < 0 {
		problems = append(problems, "BACKOFF_FACTOR must not be negative")
	}
	if c.RequestTimeout <= 0 || c.DownloadTimeout <= 0 {
		problems = append(problems, "REQUEST_TIMEOUT and DOWNLOAD_TIMEOUT must be positive")
	}
	if c.DownloadsDir == "" {
		problems = append(problems, "DOWNLOADS_DIR must not be empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	if err := os.MkdirAll(c.DownloadsDir, 0750); err != nil {
		return fmt.Errorf("failed to create downloads dir: %w", err)
	}

	return nil
}
