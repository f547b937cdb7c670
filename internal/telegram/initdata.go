// Package telegram validates Web App login payloads and delivers bot messages.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/telebot.v3"
)

var (
	ErrMissingHash   = errors.New("init data has no hash")
	ErrInvalidHash   = errors.New("init data hash mismatch")
	ErrExpired       = errors.New("init data is expired")
	ErrMissingUser   = errors.New("init data has no user")
	ErrMalformedData = errors.New("init data is malformed")
)

// InitData is the verified content of a Telegram Web App launch.
type InitData struct {
	User     telebot.User
	AuthDate time.Time
	QueryID  string
}

// Validator checks initData signatures issued for one bot.
type Validator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewValidator derives the Web App signing key from botToken. A zero maxAge
// accepts any auth_date.
func NewValidator(botToken string, maxAge time.Duration) *Validator {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))

	return &Validator{
		secret: mac.Sum(nil),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Validate verifies the hash of raw and decodes the launching user.
func (v *Validator) Validate(raw string) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrMissingHash
	}
	values.Del("hash")

	expected := v.sign(dataCheckString(values))
	got, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(got, expected) {
		return nil, ErrInvalidHash
	}

	data := &InitData{QueryID: values.Get("query_id")}

	if rawDate := values.Get("auth_date"); rawDate != "" {
		unix, err := strconv.ParseInt(rawDate, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: auth_date", ErrMalformedData)
		}
		data.AuthDate = time.Unix(unix, 0).UTC()
	}
	if v.maxAge > 0 && (data.AuthDate.IsZero() || v.now().Sub(data.AuthDate) > v.maxAge) {
		return nil, ErrExpired
	}

	rawUser := values.Get("user")
	if rawUser == "" {
		return nil, ErrMissingUser
	}
	if err := json.Unmarshal([]byte(rawUser), &data.User); err != nil {
		return nil, fmt.Errorf("%w: user", ErrMalformedData)
	}
	if data.User.ID == 0 {
		return nil, ErrMissingUser
	}

	return data, nil
}

// Sign returns the hash Telegram would attach to values. Used to build fixtures.
func (v *Validator) Sign(values url.Values) string {
	return hex.EncodeToString(v.sign(dataCheckString(values)))
}

func (v *Validator) sign(check string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(check))
	return mac.Sum(nil)
}

// dataCheckString joins key=value pairs sorted by key with newlines.
func dataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	return strings.Join(pairs, "\n")
}

// DisplayName picks the account name for a Telegram user: the username, or
// the first and last name.
func DisplayName(u telebot.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
