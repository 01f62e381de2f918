// Package auth signs channel subscriptions and HTTP API requests, and
// provides the Provider implementations the socket engine uses to obtain
// subscription credentials.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
)

var socketIDPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Signer computes HMAC-SHA256 signatures with the app secret. It holds only
// immutable credentials and is safe for concurrent use.
type Signer struct {
	key    string
	secret []byte
}

// NewSigner creates a Signer. Credentials are checked on every signing call
// so a misconfigured Signer fails with an AuthError rather than producing
// signatures the service will reject.
func NewSigner(key, secret string) *Signer {
	return &Signer{key: key, secret: []byte(secret)}
}

// Key returns the app key.
func (s *Signer) Key() string { return s.key }

func (s *Signer) check(op string) error {
	secret := string(s.secret)
	switch {
	case s.key == "":
		return errs.Errorf(errs.KindAuth, op, "app key is empty")
	case secret == "":
		return errs.Errorf(errs.KindAuth, op, "app secret is empty")
	case strings.TrimSpace(secret) != secret:
		return errs.Errorf(errs.KindAuth, op, "app secret has surrounding whitespace")
	}
	return nil
}

func (s *Signer) hmacHex(message string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignChannelAuth returns "key:hex(hmac(socketID:channel[:channelData]))".
func (s *Signer) SignChannelAuth(socketID, channel, channelData string) (string, error) {
	if err := s.check("sign channel auth"); err != nil {
		return "", err
	}
	if !socketIDPattern.MatchString(socketID) {
		return "", errs.Errorf(errs.KindValidation, "sign channel auth", "invalid socket id %q", socketID)
	}
	return s.key + ":" + s.hmacHex(stringToSign(socketID, channel, channelData)), nil
}

// SignPresenceAuth builds the member channel data and signs over it. It
// returns the auth string and the channel data that must accompany it.
func (s *Signer) SignPresenceAuth(socketID, channel, userID string, userInfo map[string]any) (string, string, error) {
	if userID == "" {
		return "", "", errs.Errorf(errs.KindAuth, "sign presence auth", "presence channel %s requires a user id", channel)
	}
	member := struct {
		UserID   string         `json:"user_id"`
		UserInfo map[string]any `json:"user_info,omitempty"`
	}{UserID: userID, UserInfo: userInfo}

	data, err := json.Marshal(member)
	if err != nil {
		return "", "", errs.E(errs.KindValidation, "sign presence auth", err)
	}

	channelData := string(data)
	sig, err := s.SignChannelAuth(socketID, channel, channelData)
	if err != nil {
		return "", "", err
	}
	return sig, channelData, nil
}

// VerifyChannelAuth checks an auth string in constant time.
func (s *Signer) VerifyChannelAuth(socketID, channel, channelData, auth string) bool {
	if s.check("verify channel auth") != nil {
		return false
	}
	key, sig, ok := strings.Cut(auth, ":")
	if !ok || key != s.key {
		return false
	}
	want := s.hmacHex(stringToSign(socketID, channel, channelData))
	return hmac.Equal([]byte(sig), []byte(want))
}

// SignTriggerRequest returns the signed query parameters for an HTTP API
// call: auth_key, auth_timestamp, auth_version, body_md5 and auth_signature.
func (s *Signer) SignTriggerRequest(method, path string, body []byte, now time.Time) (url.Values, error) {
	if err := s.check("sign request"); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("auth_key", s.key)
	params.Set("auth_timestamp", strconv.FormatInt(now.Unix(), 10))
	params.Set("auth_version", constants.AuthVersion)
	if len(body) > 0 {
		sum := md5.Sum(body)
		params.Set("body_md5", hex.EncodeToString(sum[:]))
	}

	// Encode sorts by key; every value here is URL-safe, so the escaped
	// form equals the unescaped form the service signs.
	toSign := strings.ToUpper(method) + "\n" + path + "\n" + params.Encode()
	params.Set("auth_signature", s.hmacHex(toSign))
	return params, nil
}

// DeriveKey returns HMAC-SHA256(secret, message). It is the one-way keyed
// hash used for per-channel encryption keys.
func (s *Signer) DeriveKey(message string) ([32]byte, error) {
	var key [32]byte
	if err := s.check("derive key"); err != nil {
		return key, err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	copy(key[:], mac.Sum(nil))
	return key, nil
}

func stringToSign(socketID, channel, channelData string) string {
	if channelData == "" {
		return socketID + ":" + channel
	}
	return socketID + ":" + channel + ":" + channelData
}
