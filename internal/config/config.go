// Package config handles configuration for the bot, including defaults,
// JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the organizers bot.
//
// Fields:
//   - CommandAddr: bind address for the command/health HTTP endpoint.
//   - ChatAPIBaseURL / ChatBotToken: chat platform REST endpoint and bot token.
//   - GuildID: the guild (server) the bot manages.
//   - Categories: channel category names the bot is allowed to manage.
//   - SolvedPrefix: prefix prepended to a channel name once its task is solved.
//   - NotesURL / NotesLogin / NotesPassword: CTFNote endpoint and admin
//     credentials. Reconfigurable at runtime via the auth-update command.
//   - GuestPasswordPrefix: fixed prefix of generated guest-account passwords.
//   - S3AccessKeyID / S3SecretKey / S3Bucket / S3Region / S3BaseEndpoint:
//     object storage settings for transcript and asset uploads.
//   - ArchiveURL / ArchiveSecret / ArchiveTimeout: archive handoff endpoint,
//     HMAC shared secret and request deadline.
type Config struct {
	CommandAddr         string
	ChatAPIBaseURL      string
	ChatBotToken        string
	GuildID             string
	Categories          []string
	SolvedPrefix        string
	NotesURL            string
	NotesLogin          string
	NotesPassword       string
	GuestPasswordPrefix string
	S3AccessKeyID       string
	S3SecretKey         string
	S3Bucket            string
	S3Region            string
	S3BaseEndpoint      string
	ArchiveURL          string
	ArchiveSecret       string
	ArchiveTimeout      time.Duration
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.CommandAddr = ":8080"
	c.ChatAPIBaseURL = "https://discord.com/api/v10"
	c.Categories = []string{"pwn", "rev", "web", "crypto", "misc"}
	c.SolvedPrefix = "✓-"
	c.NotesURL = "http://127.0.0.1:8099"
	c.NotesLogin = "admin"
	c.GuestPasswordPrefix = "organizerssostrong"
	c.S3Region = "us-east-1"
	c.S3Bucket = "transcripts"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.ArchiveTimeout = 10 * time.Minute
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
