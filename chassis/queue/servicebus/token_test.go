package servicebus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://ns.servicebus.windows.net/"

func parseToken(t *testing.T, value string) url.Values {
	t.Helper()
	require.True(t, strings.HasPrefix(value, "SharedAccessSignature "))
	values, err := url.ParseQuery(strings.TrimPrefix(value, "SharedAccessSignature "))
	require.NoError(t, err)
	return values
}

func TestGenerate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	token := Generate(testEndpoint, "RootManageSharedAccessKey", "secret", now)

	assert.True(t, time.Unix(1700003600, 0).Equal(token.Expiry))

	values := parseToken(t, token.Value)
	assert.Equal(t, testEndpoint, values.Get("sr"))
	assert.Equal(t, "1700003600", values.Get("se"))
	assert.Equal(t, "RootManageSharedAccessKey", values.Get("skn"))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(url.QueryEscape(testEndpoint) + "\n1700003600"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), values.Get("sig"))

	assert.Contains(t, token.Value, "sr="+url.QueryEscape(testEndpoint)+"&")
}

func TestTokenProviderRefresh(t *testing.T) {
	start := time.Unix(1700000000, 0)
	now := start
	p := NewTokenProvider(testEndpoint, "key", "secret", func() time.Time { return now })

	first := p.Token()
	assert.Equal(t, start.Add(TokenTTL), p.Current().Expiry)

	now = start.Add(TokenTTL - time.Second)
	assert.Equal(t, first, p.Token(), "token must be reused before expiry")

	now = start.Add(TokenTTL)
	second := p.Token()
	assert.NotEqual(t, first, second, "token must be regenerated at expiry")
	assert.Equal(t, now.Add(TokenTTL), p.Current().Expiry)
	assert.Equal(t, strconv.FormatInt(now.Add(TokenTTL).Unix(), 10), parseToken(t, second).Get("se"))
}

func TestTokenProviderKeepsSubSecondExpiry(t *testing.T) {
	start := time.Unix(1700000000, int64(500*time.Millisecond))
	now := start
	p := NewTokenProvider(testEndpoint, "key", "secret", func() time.Time { return now })

	first := p.Token()
	assert.True(t, start.Add(TokenTTL).Equal(p.Current().Expiry))
	assert.Equal(t, "1700003600", parseToken(t, first).Get("se"))

	now = start.Add(TokenTTL - 200*time.Millisecond)
	assert.Equal(t, first, p.Token())

	now = start.Add(TokenTTL)
	assert.NotEqual(t, first, p.Token())
}
