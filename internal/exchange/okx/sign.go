package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

const (
	restTimeFormat = "2006-01-02T15:04:05.000Z"
	verifyPath     = "/users/self/verify"
)

// Sign: base64(HMAC-SHA256(secret, timestamp + method + path + body)).
func Sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RESTTimestamp: формат OK-ACCESS-TIMESTAMP.
func RESTTimestamp(now time.Time) string {
	return now.UTC().Format(restTimeFormat)
}

// LoginTimestamp: секунды unix для логина в WebSocket.
func LoginTimestamp(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10)
}
