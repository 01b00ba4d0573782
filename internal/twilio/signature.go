package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
)

// ValidSignature checks the X-Twilio-Signature header: HMAC-SHA1 over the
// full request URL followed by the sorted POST parameters, keyed with the
// account auth token.
// Reference: https://www.twilio.com/docs/usage/security#validating-requests
func ValidSignature(authToken, requestURL string, form url.Values, signature string) bool {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(requestURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		// Twilio signs the first value only.
		mac.Write([]byte(form.Get(k)))
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// RequestURL reconstructs the externally visible URL Twilio signed,
// preferring proxy forwarding headers over the local listener's view.
func RequestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
