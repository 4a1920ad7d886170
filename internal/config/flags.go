package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/polyctf/orgbot/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   command endpoint bind address (e.g., ":8080")
//	-n string   CTFNote base URL
//	-l string   CTFNote login
//	-w string   CTFNote password
//	-g string   guild id
//	-t string   chat bot token
//	-m string   comma-separated managed category names
//	-u string   S3 access key id
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-r string   S3 region
//	-e string   S3 base endpoint
//	-x string   archive base URL
//	-s string   archive shared secret
//	-d int      archive handoff timeout, minutes
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, so the -c/-config flags of the JSON pass are untouched.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-n", "-l", "-w", "-g", "-t", "-m",
		"-u", "-p", "-b", "-r", "-e", "-x", "-s", "-d",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.CommandAddr, "a", config.CommandAddr, "command endpoint bind address")
	fs.StringVar(&config.NotesURL, "n", config.NotesURL, "CTFNote base URL")
	fs.StringVar(&config.NotesLogin, "l", config.NotesLogin, "CTFNote login")
	fs.StringVar(&config.NotesPassword, "w", config.NotesPassword, "CTFNote password")
	fs.StringVar(&config.GuildID, "g", config.GuildID, "guild id")
	fs.StringVar(&config.ChatBotToken, "t", config.ChatBotToken, "chat bot token")

	categories := fs.String("m", strings.Join(config.Categories, ","), "managed category names, comma-separated")

	fs.StringVar(&config.S3AccessKeyID, "u", config.S3AccessKeyID, "S3 access key id")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "r", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.ArchiveURL, "x", config.ArchiveURL, "archive base URL")
	fs.StringVar(&config.ArchiveSecret, "s", config.ArchiveSecret, "archive shared secret")

	archiveTimeout := fs.Int("d", int(config.ArchiveTimeout.Minutes()), "archive handoff timeout (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *categories != "" {
		config.Categories = strings.Split(*categories, ",")
	}
	config.ArchiveTimeout = time.Duration(*archiveTimeout) * time.Minute
}
