// Package token obtains a Twitch PlaybackAccessToken via the GraphQL
// persisted-query endpoint, the collaborator the master playlist fetch
// needs before it can build a usher.ttvnw.net URL. It is grounded on
// original_source/src/hls/playlist.rs's PlaybackAccessToken::new, kept
// word-for-word on the wire contract (exact persisted-query hash,
// header set, GQL response scraping) since that part isn't ours to
// redesign.
package token

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"twitch-hls-client/herr"
	"twitch-hls-client/httpreq"
	"twitch-hls-client/urlx"
)

const (
	gqlEndpoint      = "https://gql.twitch.tv/gql"
	oauthValidateURL = "https://id.twitch.tv/oauth2/validate"
	defaultClientID  = "kimne78kx3ncx6brgo4mv6wki5h1ko"
)

// AccessToken is what a master playlist fetch needs appended to its
// usher.ttvnw.net query string.
type AccessToken struct {
	Token         string
	Signature     string
	PlaySessionID string
}

// Fetch requests a PlaybackAccessToken for channel. clientID and
// authToken are both optional: when clientID is empty it is resolved from
// authToken (via the oauth validate endpoint) or falls back to Twitch's
// public web client id.
func Fetch(channel, clientID, authToken string, opts httpreq.Options) (AccessToken, error) {
	resolvedClientID, err := chooseClientID(clientID, authToken, opts)
	if err != nil {
		return AccessToken{}, err
	}

	gql := strings.ReplaceAll(gqlTemplate, "{channel}", channel)

	u, err := urlx.Parse(gqlEndpoint)
	if err != nil {
		return AccessToken{}, fmt.Errorf("token: parse gql endpoint: %w", err)
	}

	headers := []string{
		"Content-Type: text/plain;charset=UTF-8",
		"X-Device-ID: " + genID(),
		"Client-Id: " + resolvedClientID,
	}
	if authToken != "" {
		headers = append(headers, "Authorization: OAuth "+authToken)
	}

	req, err := httpreq.New(u, httpreq.MethodPost, headers, []byte(gql), opts)
	if err != nil {
		return AccessToken{}, err
	}
	defer req.Close()

	body, err := req.Text()
	if err != nil {
		return AccessToken{}, err
	}

	return parseResponse(body)
}

func chooseClientID(clientID, authToken string, opts httpreq.Options) (string, error) {
	if clientID != "" {
		return clientID, nil
	}
	if authToken == "" {
		return defaultClientID, nil
	}

	u, err := urlx.Parse(oauthValidateURL)
	if err != nil {
		return "", fmt.Errorf("token: parse oauth validate url: %w", err)
	}
	req, err := httpreq.New(u, httpreq.MethodGet, []string{"Authorization: OAuth " + authToken}, nil, opts)
	if err != nil {
		return "", err
	}
	defer req.Close()

	body, err := req.Text()
	if err != nil {
		return "", err
	}

	_, rest, ok := strings.Cut(body, `"client_id":"`)
	if !ok {
		return "", fmt.Errorf("token: client_id not found in oauth validate response")
	}
	return takeN(rest, 30), nil
}

func parseResponse(response string) (AccessToken, error) {
	start := strings.Index(response, `{\"adblock\"`)
	end := strings.Index(response, `","signature"`)
	if start < 0 || end < 0 || end < start {
		return AccessToken{}, herr.ErrOffline
	}
	rawToken := strings.ReplaceAll(response[start:end], `\`, "")

	_, rest, ok := strings.Cut(response, `"signature":"`)
	if !ok {
		return AccessToken{}, fmt.Errorf("token: signature not found in gql response")
	}

	return AccessToken{
		Token:         rawToken,
		Signature:     takeN(rest, 40),
		PlaySessionID: genID(),
	}, nil
}

func takeN(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func genID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

const gqlTemplate = `{"extensions":{"persistedQuery":{"sha256Hash":"0828119ded1c13477966434e15800ff57ddacf13ba1911c129dc2200705b0712","version":1}},` +
	`"operationName":"PlaybackAccessToken","variables":{"isLive":true,"isVod":false,` +
	`"login":"{channel}","playerType":"site","vodID":""}}`
