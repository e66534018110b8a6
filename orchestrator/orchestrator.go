// Package orchestrator composes every other package into the
// reload→pick→dispatch→sleep control loop, the one piece of this system
// without a reusable generic shape of its own in the teacher's codebase.
// Grounded on original_source/src/main.rs's session loop (spawn player,
// build playlist, loop { reload; process }) and the teacher's main.go for
// the orchestration *style*: explicit top-level loop, plain log.Printf-ish
// narration via logger.Logger, background goroutines for cron/heartbeat
// work layered on top without touching the hot loop.
package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"twitch-hls-client/backoff"
	"twitch-hls-client/config"
	"twitch-hls-client/herr"
	"twitch-hls-client/history"
	"twitch-hls-client/hls"
	"twitch-hls-client/httpreq"
	"twitch-hls-client/logger"
	"twitch-hls-client/player"
	"twitch-hls-client/sessionstore"
	"twitch-hls-client/stats"
	"twitch-hls-client/token"
	"twitch-hls-client/urlx"
	"twitch-hls-client/worker"
)

const (
	playerVersion = "1.24.0-rc.1.3"
	usherEndpoint = "https://usher.ttvnw.net/api/channel/hls/"
	workerDepth   = 3
)

// Run drives one full stream session for cfg: acquires the master
// playlist, resolves a variant, and either hands it straight to the
// player (passthrough) or spawns the worker and loops reload/process
// until the stream goes offline or a fatal error occurs.
func Run(ctx context.Context, log logger.Logger, cfg *config.Config) error {
	opts := httpreq.Options{
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
		UserAgent:  cfg.UserAgent,
		ForceHTTPS: cfg.ForceHTTPS,
		ForceIPv4:  cfg.ForceIPv4,
		TLSConfig:  cfg.TLSConfig,
	}

	variantURL, lowLatency, err := acquireVariant(ctx, log, cfg, opts)
	if err != nil {
		if errors.Is(err, herr.ErrOffline) {
			log.Logf("orchestrator: %v, exiting", err)
			return nil
		}
		return fmt.Errorf("orchestrator: acquire variant playlist: %w", err)
	}
	if lowLatency {
		log.Logf("orchestrator: stream is low-latency capable")
	}

	if cfg.Passthrough {
		return player.Passthrough(log, cfg.Player, cfg.PlayerArgs, variantURL.String(), cfg.NoKill)
	}

	err = runSession(ctx, log, cfg, opts, variantURL)
	if errors.Is(err, syscall.EPIPE) {
		log.Logf("orchestrator: player closed, exiting")
		return nil
	}
	return err
}

// acquireVariant fetches the master playlist and resolves a variant,
// retrying transient failures unboundedly (spec.md §9 Open Question (a):
// the stream may simply not be live yet — keep trying rather than giving
// up), the same unlimited-retry-until-Offline treatment the playlist
// reload loop gets.
func acquireVariant(ctx context.Context, log logger.Logger, cfg *config.Config, opts httpreq.Options) (urlx.Url, bool, error) {
	delay := backoff.New(time.Second, 30*time.Second)

	for {
		master, err := fetchMasterPlaylist(cfg, opts)
		if err == nil {
			return hls.ParseVariant(master, cfg.Quality)
		}
		if errors.Is(err, herr.ErrOffline) {
			return urlx.Url{}, false, herr.ErrOffline
		}
		if isFatal(err) {
			return urlx.Url{}, false, err
		}

		log.Warnf("orchestrator: master playlist fetch failed, retrying: %v", err)
		select {
		case <-ctx.Done():
			return urlx.Url{}, false, ctx.Err()
		case <-time.After(delay.Next()):
		}
	}
}

// isFatal reports whether err is one of the non-retryable kinds from
// spec.md §7's table (anything other than Offline/NotFound/transient I/O).
func isFatal(err error) bool {
	var status *herr.StatusError
	if errors.As(err, &status) {
		return true
	}
	var badURL *urlx.ErrInvalidUrl
	if errors.As(err, &badURL) {
		return true
	}
	return errors.Is(err, herr.ErrInvalidQuality) ||
		errors.Is(err, herr.ErrMalformedResponse) ||
		errors.Is(err, herr.ErrInvalidDuration) ||
		errors.Is(err, herr.ErrInvalidPrefetchURL) ||
		errors.Is(err, herr.ErrUnknownEncoding) ||
		errors.Is(err, herr.ErrInsecureScheme) ||
		errors.Is(err, herr.ErrHeadersTooLarge)
}

func runSession(ctx context.Context, log logger.Logger, cfg *config.Config, opts httpreq.Options, variantURL urlx.Url) error {
	playlist, err := hls.NewMediaPlaylist(variantURL, opts)
	if err != nil {
		return fmt.Errorf("orchestrator: fetch media playlist: %w", err)
	}
	defer playlist.Close()

	p, err := player.Spawn(log, cfg.Player, cfg.PlayerArgs, cfg.NoKill)
	if err != nil {
		return fmt.Errorf("orchestrator: spawn player: %w", err)
	}
	defer p.Close()

	w := worker.New(log, p.Stdin(), opts, workerDepth)
	defer w.Close()

	ledger, err := history.New()
	if err != nil {
		return fmt.Errorf("orchestrator: init history ledger: %w", err)
	}

	var store *sessionstore.Store
	if cfg.ResumeDBPath != "" {
		store, err = sessionstore.Open(log, cfg.ResumeDBPath)
		if err != nil {
			return fmt.Errorf("orchestrator: open resume store: %w", err)
		}
		defer store.Close()

		if cp, ok := store.Last(cfg.Channel, cfg.ResumeMaxAge); ok {
			log.Logf("orchestrator: found resume checkpoint seq=%d url=%s (diagnostic only)", cp.LastSeq, cp.LastURL)
		}
	}

	hb, err := stats.New(log, cronEvery(cfg.HeartbeatInterval), w)
	if err != nil {
		return fmt.Errorf("orchestrator: init heartbeat: %w", err)
	}
	hb.Start()
	defer hb.Stop()

	if header, err := playlist.Header(); err == nil && !header.URL.IsZero() {
		if err := w.SyncUrl(header.URL); err != nil {
			return fmt.Errorf("orchestrator: dispatch fragment header: %w", err)
		}
	}

	sink := &recordingSink{w: w, ledger: ledger, store: store, channel: cfg.Channel, log: log}
	sm := hls.NewStateMachine(log)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t0 := time.Now()
		if err := playlist.Reload(); err != nil {
			if errors.Is(err, herr.ErrOffline) {
				log.Logf("orchestrator: stream offline, exiting")
				return nil
			}
			return fmt.Errorf("orchestrator: reload playlist: %w", err)
		}

		if err := sm.Process(playlist, sink, t0, time.Sleep); err != nil {
			return fmt.Errorf("orchestrator: process segment: %w", err)
		}

		if err := w.Err(); err != nil {
			return fmt.Errorf("orchestrator: worker failed: %w", err)
		}
	}
}

// recordingSink wraps the worker with the history ledger (hard
// duplicate-dispatch guard) and, when configured, the durable resume
// checkpoint — both observe dispatch order the same way the worker
// itself does, without the worker package needing to know either exists.
type recordingSink struct {
	w       *worker.Worker
	ledger  *history.Ledger
	store   *sessionstore.Store
	channel string
	log     logger.Logger
}

func (s *recordingSink) Url(u urlx.Url) error {
	s.record(u)
	return s.w.Url(u)
}

func (s *recordingSink) SyncUrl(u urlx.Url) error {
	s.record(u)
	return s.w.SyncUrl(u)
}

func (s *recordingSink) record(u urlx.Url) {
	rec, err := s.ledger.Record(u.String(), "segment", 0)
	if err != nil {
		// The worker's own TTL cache already tolerates a reload racing
		// and re-offering a URL already in flight (see worker.seen); the
		// ledger's hard uniqueness check just means this particular
		// resend isn't logged twice.
		s.log.Debugf("orchestrator: %v", err)
		return
	}
	if s.store != nil {
		s.store.Checkpoint(s.channel, rec.URL, rec.Sequence)
	}
}

// cronEvery renders a time.Duration as a robfig/cron "@every" descriptor.
func cronEvery(d time.Duration) string {
	if d <= 0 {
		return stats.DefaultSchedule
	}
	return "@every " + d.String()
}

// fetchMasterPlaylist tries the Twitch GraphQL path when no --servers
// list was given, otherwise walks the proxy server list in order,
// per spec.md §6's two construction recipes.
func fetchMasterPlaylist(cfg *config.Config, opts httpreq.Options) (string, error) {
	if len(cfg.Servers) == 0 {
		return fetchTwitchMasterPlaylist(cfg, opts)
	}
	return fetchProxyMasterPlaylist(cfg, opts)
}

func fetchTwitchMasterPlaylist(cfg *config.Config, opts httpreq.Options) (string, error) {
	tok, err := token.Fetch(cfg.Channel, cfg.ClientID, cfg.AuthToken, opts)
	if err != nil {
		return "", fmt.Errorf("orchestrator: fetch access token: %w", err)
	}

	u, err := urlx.Parse(usherEndpoint + cfg.Channel + ".m3u8?" + twitchQuery(cfg, tok).Encode())
	if err != nil {
		return "", fmt.Errorf("orchestrator: build usher url: %w", err)
	}

	req, err := httpreq.New(u, httpreq.MethodGet, nil, nil, opts)
	if err != nil {
		return "", err
	}
	defer req.Close()

	return req.Text()
}

func twitchQuery(cfg *config.Config, tok token.AccessToken) url.Values {
	q := url.Values{}
	q.Set("acmb", "e30=")
	q.Set("allow_source", "true")
	q.Set("allow_audio_only", "true")
	q.Set("cdm", "wv")
	q.Set("fast_bread", strconv.FormatBool(cfg.LowLatency))
	q.Set("playlist_include_framerate", "true")
	q.Set("player_backend", "mediaplayer")
	q.Set("reassignments_supported", "true")
	q.Set("supported_codecs", cfg.Codecs)
	q.Set("transcode_mode", "cbr_v1")
	q.Set("p", strconv.Itoa(randInt(9999999)))
	q.Set("play_session_id", tok.PlaySessionID)
	q.Set("sig", tok.Signature)
	q.Set("token", tok.Token)
	q.Set("player_version", playerVersion)
	q.Set("warp", strconv.FormatBool(cfg.LowLatency))
	q.Set("browser_family", "firefox")
	q.Set("browser_version", lastN(cfg.UserAgent, 5))
	q.Set("os_name", "Windows")
	q.Set("os_version", "NT+10.0")
	q.Set("platform", "web")
	return q
}

func fetchProxyMasterPlaylist(cfg *config.Config, opts httpreq.Options) (string, error) {
	for _, server := range cfg.Servers {
		body, err := tryProxyServer(server, cfg, opts)
		if err != nil {
			if errors.Is(err, herr.ErrOffline) {
				return "", herr.ErrOffline
			}
			continue
		}
		return body, nil
	}
	return "", fmt.Errorf("orchestrator: no proxy server in %v returned a playlist", cfg.Servers)
}

func tryProxyServer(server string, cfg *config.Config, opts httpreq.Options) (string, error) {
	rendered := strings.ReplaceAll(server, "[channel]", cfg.Channel)

	q := url.Values{}
	q.Set("allow_source", "true")
	q.Set("allow_audio_only", "true")
	q.Set("fast_bread", strconv.FormatBool(cfg.LowLatency))
	q.Set("warp", strconv.FormatBool(cfg.LowLatency))
	q.Set("supported_codecs", cfg.Codecs)
	q.Set("platform", "web")

	sep := "?"
	if strings.Contains(rendered, "?") {
		sep = "&"
	}
	u, err := urlx.Parse(rendered + sep + q.Encode())
	if err != nil {
		return "", fmt.Errorf("orchestrator: parse proxy server url: %w", err)
	}

	req, err := httpreq.New(u, httpreq.MethodGet, nil, nil, opts)
	if err != nil {
		return "", err
	}
	defer req.Close()

	body, err := req.Text()
	if err != nil {
		var notFound *herr.NotFoundError
		if ok := errors.As(err, &notFound); ok {
			return "", herr.ErrOffline
		}
		return "", err
	}
	return body, nil
}

// randInt returns a uniform value in [0, max], inclusive of max, matching
// fastrand::u32(0..=max) in the reference client.
func randInt(max int64) int {
	n, err := rand.Int(rand.Reader, big.NewInt(max+1))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}

func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
