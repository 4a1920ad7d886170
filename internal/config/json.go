package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/polyctf/orgbot/internal/flagx"
)

// Duration accepts either a string such as "10m" or integer nanoseconds,
// so JSON config files can use the human-readable form.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
	return nil
}

// JsonConfig is the DTO used only for reading JSON configuration files.
// After unmarshalling, its fields are copied into the runtime Config.
type JsonConfig struct {
	CommandAddr         string   `json:"command_addr"`
	ChatAPIBaseURL      string   `json:"chat_api_base_url"`
	ChatBotToken        string   `json:"chat_bot_token"`
	GuildID             string   `json:"guild_id"`
	Categories          []string `json:"categories"`
	SolvedPrefix        string   `json:"solved_prefix"`
	NotesURL            string   `json:"notes_url"`
	NotesLogin          string   `json:"notes_login"`
	NotesPassword       string   `json:"notes_password"`
	GuestPasswordPrefix string   `json:"guest_password_prefix"`
	S3AccessKeyID       string   `json:"s3_access_key_id"`
	S3SecretKey         string   `json:"s3_secret_key"`
	S3Bucket            string   `json:"s3_bucket"`
	S3Region            string   `json:"s3_region"`
	S3BaseEndpoint      string   `json:"s3_base_endpoint"`
	ArchiveURL          string   `json:"archive_url"`
	ArchiveSecret       string   `json:"archive_secret"`
	ArchiveTimeout      Duration `json:"archive_timeout"`
}

// parseJson loads configuration values from the JSON file named by the
// -c or -config flags into the provided Config. If no file flag is given,
// nothing happens. Unset JSON fields leave the existing values alone, so
// defaults survive a partial config file.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setIfNotEmpty := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}

	setIfNotEmpty(&config.CommandAddr, c.CommandAddr)
	setIfNotEmpty(&config.ChatAPIBaseURL, c.ChatAPIBaseURL)
	setIfNotEmpty(&config.ChatBotToken, c.ChatBotToken)
	setIfNotEmpty(&config.GuildID, c.GuildID)
	if len(c.Categories) > 0 {
		config.Categories = c.Categories
	}
	setIfNotEmpty(&config.SolvedPrefix, c.SolvedPrefix)
	setIfNotEmpty(&config.NotesURL, c.NotesURL)
	setIfNotEmpty(&config.NotesLogin, c.NotesLogin)
	setIfNotEmpty(&config.NotesPassword, c.NotesPassword)
	setIfNotEmpty(&config.GuestPasswordPrefix, c.GuestPasswordPrefix)
	setIfNotEmpty(&config.S3AccessKeyID, c.S3AccessKeyID)
	setIfNotEmpty(&config.S3SecretKey, c.S3SecretKey)
	setIfNotEmpty(&config.S3Bucket, c.S3Bucket)
	setIfNotEmpty(&config.S3Region, c.S3Region)
	setIfNotEmpty(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setIfNotEmpty(&config.ArchiveURL, c.ArchiveURL)
	setIfNotEmpty(&config.ArchiveSecret, c.ArchiveSecret)
	if c.ArchiveTimeout.Duration != 0 {
		config.ArchiveTimeout = c.ArchiveTimeout.Duration
	}
}
