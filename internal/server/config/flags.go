package config

import (
	"flag"
	"os"
	"slices"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/flagx"
	"github.com/dmitrijs2005/tradeauth/internal/timex"
)

var serverFlags = []string{
	"-a", "-d", "-s", "-t", "-r", "-i", "-n", "-m", "-w", "-j", "-l",
	"-u", "-p", "-b", "-g", "-e", "-k",
	"-google-client-id", "-redis", "-rate-limit", "-rate-window", "-otlp",
}

// FlagNames lists every flag LoadConfig reads from the command line.
func FlagNames() []string {
	return append(slices.Clone(serverFlags), flagx.ConfigFlags...)
}

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t dur      access token lifetime (e.g., "7d", "15m")
//	-r dur      refresh token lifetime
//	-i string   token issuer
//	-n int      bcrypt cost
//	-m int      failed attempts before lockout
//	-w dur      lockout window
//	-j dur      session cleanup interval
//	-l string   log level
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-k string   S3 object holding the signing secret
//	-google-client-id string
//	-redis string   Redis address for the login throttle
//	-rate-limit int
//	-rate-window dur
//	-otlp string    OTLP/HTTP trace endpoint
//
// The function first filters os.Args to the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Malformed
// values panic.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	durationVar(fs, &config.AccessTokenValidityDuration, "t", "access token lifetime")
	durationVar(fs, &config.RefreshTokenValidityDuration, "r", "refresh token lifetime")
	fs.StringVar(&config.TokenIssuer, "i", config.TokenIssuer, "token issuer")
	fs.IntVar(&config.BcryptCost, "n", config.BcryptCost, "bcrypt cost")
	fs.IntVar(&config.LockoutThreshold, "m", config.LockoutThreshold, "failed attempts before lockout")
	durationVar(fs, &config.LockoutDuration, "w", "lockout window")
	durationVar(fs, &config.SessionCleanupInterval, "j", "session cleanup interval")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.SecretObjectKey, "k", config.SecretObjectKey, "S3 object key of the signing secret")

	fs.StringVar(&config.GoogleClientID, "google-client-id", config.GoogleClientID, "Google OAuth client id")
	fs.StringVar(&config.RedisAddress, "redis", config.RedisAddress, "Redis address for login throttling")
	fs.IntVar(&config.LoginRateLimit, "rate-limit", config.LoginRateLimit, "login attempts per IP per window")
	durationVar(fs, &config.LoginRateWindow, "rate-window", "login throttle window")
	fs.StringVar(&config.OTLPEndpoint, "otlp", config.OTLPEndpoint, "OTLP/HTTP trace endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}

func durationVar(fs *flag.FlagSet, dst *time.Duration, name, usage string) {
	fs.Func(name, usage+" (default "+dst.String()+")", func(s string) error {
		d, err := timex.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	})
}
