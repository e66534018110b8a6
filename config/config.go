// Package config resolves the CLI surface spec.md §6 requires (two
// positionals plus a long flag list) into a single Config value, with
// environment-variable fallbacks for the ones worth overriding without a
// flag. Grounded on the teacher's config.Config getter/setter shape and
// utils/env.go's GetEnv default-lookup idiom.
package config

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is every resolved setting the orchestrator, worker, transport
// and token packages need. It is built once at startup and passed down
// by value/pointer; nothing here is mutated after Parse returns.
type Config struct {
	Channel string
	Quality string

	Servers   []string
	ClientID  string
	AuthToken string
	Codecs    string

	LowLatency  bool
	Passthrough bool

	Player     string
	PlayerArgs []string
	NoKill     bool

	ForceHTTPS bool
	ForceIPv4  bool
	Retries    int
	Timeout    time.Duration
	UserAgent  string

	Quiet bool
	Debug bool

	TLSConfig *tls.Config

	// ResumeDBPath, when set, turns on sessionstore's durable checkpoint.
	ResumeDBPath string
	ResumeMaxAge time.Duration

	HeartbeatInterval time.Duration
}

const (
	defaultCodecs            = "avc1"
	defaultRetries           = 3
	defaultTimeout           = 10 * time.Second
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0"
	defaultResumeMaxAge      = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

var globalConfig *Config

// GetConfig returns the process-wide resolved config, mirroring the
// teacher's config.GetConfig/SetConfig pair.
func GetConfig() *Config { return globalConfig }

// SetConfig installs cfg as the process-wide config.
func SetConfig(cfg *Config) { globalConfig = cfg }

// Parse builds a Config from args (pass os.Args[1:] in main), falling
// back to environment variables for client id, auth token and user agent
// when their flags are unset, the same way the teacher's GetEnv resolves
// IPTV-client defaults.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("twitch-hls-client", flag.ContinueOnError)

	servers := fs.String("servers", "", "comma-separated list of proxy playlist servers")
	clientID := fs.String("client-id", "", "Twitch API client id")
	authToken := fs.String("auth-token", "", "Twitch OAuth token")
	codecs := fs.String("codecs", defaultCodecs, "supported codecs sent to usher")
	lowLatency := fs.Bool("low-latency", false, "request low-latency playback")
	passthrough := fs.Bool("passthrough", false, "pass the variant URL straight to the player")
	player := fs.String("player", "", "player executable")
	playerArgs := fs.String("player-args", "-", "player arguments, '-' is replaced with the stream URL")
	quiet := fs.Bool("quiet", false, "suppress info/debug logging")
	noKill := fs.Bool("no-kill", false, "don't signal the player process on exit")
	forceHTTPS := fs.Bool("force-https", false, "reject non-https URLs")
	forceIPv4 := fs.Bool("force-ipv4", false, "only dial IPv4 addresses")
	retries := fs.Int("retries", defaultRetries, "HTTP retry attempts before giving up")
	timeout := fs.Duration("timeout", defaultTimeout, "TCP read/write timeout")
	userAgent := fs.String("user-agent", "", "HTTP User-Agent header")
	debug := fs.Bool("debug", false, "verbose debug logging")
	resumeDBPath := fs.String("resume-db", "", "sqlite path for durable resume checkpoints (optional)")
	resumeMaxAge := fs.Duration("resume-max-age", defaultResumeMaxAge, "how fresh a resume checkpoint must be to be logged")
	heartbeatInterval := fs.Duration("heartbeat-interval", defaultHeartbeatInterval, "throughput heartbeat log interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	positional := fs.Args()
	if len(positional) < 2 {
		return nil, fmt.Errorf("config: expected <channel> <quality>, got %d arguments", len(positional))
	}

	cfg := &Config{
		Channel:     positional[0],
		Quality:     positional[1],
		ClientID:    envOrFlag("TWITCH_CLIENT_ID", *clientID),
		AuthToken:   envOrFlag("TWITCH_AUTH_TOKEN", *authToken),
		Codecs:      *codecs,
		LowLatency:  *lowLatency,
		Passthrough: *passthrough,
		Player:      *player,
		PlayerArgs:  strings.Fields(*playerArgs),
		NoKill:      *noKill,
		ForceHTTPS:  *forceHTTPS,
		ForceIPv4:   *forceIPv4,
		Retries:     *retries,
		Timeout:     *timeout,
		UserAgent:   envOrFlag("TWITCH_USER_AGENT", *userAgent),
		Quiet:       *quiet,
		Debug:       *debug,

		ResumeDBPath:      *resumeDBPath,
		ResumeMaxAge:      *resumeMaxAge,
		HeartbeatInterval: *heartbeatInterval,
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if *servers != "" {
		for _, s := range strings.Split(*servers, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Servers = append(cfg.Servers, s)
			}
		}
	}
	if cfg.ForceHTTPS {
		cfg.TLSConfig = &tls.Config{}
	}

	return cfg, nil
}

// envOrFlag prefers an explicitly-set flag value over the named
// environment variable, generalizing the teacher's GetEnv
// default-lookup to a flag-overrides-env precedence.
func envOrFlag(envVar, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envVar)
}
