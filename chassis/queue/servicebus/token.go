package servicebus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// TokenTTL - lifetime of a generated SAS token
const TokenTTL = time.Hour

// Token - signed SAS credential and the moment it stops being valid
type Token struct {
	Value  string
	Expiry time.Time
}

// Generate signs "<escaped uri>\n<expiry>" with key and formats the
// SharedAccessSignature header value.
func Generate(resourceURI, keyName, key string, now time.Time) Token {
	expiresAt := now.Add(TokenTTL)
	expiry := expiresAt.Unix()
	encodedURI := url.QueryEscape(resourceURI)
	stringToSign := encodedURI + "\n" + strconv.FormatInt(expiry, 10)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return Token{
		Value: fmt.Sprintf(
			"SharedAccessSignature sr=%s&sig=%s&se=%d&skn=%s",
			encodedURI,
			url.QueryEscape(signature),
			expiry,
			keyName,
		),
		Expiry: expiresAt,
	}
}

// TokenProvider keeps the single live token of a broker and regenerates it
// lazily once it has expired.
type TokenProvider struct {
	resourceURI string
	keyName     string
	key         string
	now         func() time.Time

	mu    sync.Mutex
	token Token
}

// NewTokenProvider generates the first token right away.
func NewTokenProvider(resourceURI, keyName, key string, now func() time.Time) *TokenProvider {
	if now == nil {
		now = time.Now
	}
	p := &TokenProvider{
		resourceURI: resourceURI,
		keyName:     keyName,
		key:         key,
		now:         now,
	}
	p.token = Generate(resourceURI, keyName, key, now())
	return p
}

// Token returns the current header value, refreshing it when expired.
func (p *TokenProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !now.Before(p.token.Expiry) {
		p.token = Generate(p.resourceURI, p.keyName, p.key, now)
	}
	return p.token.Value
}

// Current returns the live token without refreshing it.
func (p *TokenProvider) Current() Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}
