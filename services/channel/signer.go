package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderAccessKey = "X-Channel-AccessKey"
	HeaderDate      = "X-Channel-Date"
	HeaderSignature = "X-Channel-Signature"

	// DateLayout is the UTC timestamp format carried in HeaderDate.
	DateLayout = "2006-01-02 15:04:05"
)

// Signer produces and checks request signatures. The canonical string is
// method, path, timestamp and body joined by newlines, signed with
// HMAC-SHA256 and base64 encoded.
type Signer struct {
	AccessKey string
	SecretKey string
	Now       func() time.Time
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Sign returns the signature for one request.
func (s Signer) Sign(method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte("\n"))
	mac.Write([]byte(path))
	mac.Write([]byte("\n"))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Apply stamps the auth headers onto req.
func (s Signer) Apply(req *http.Request, body []byte) {
	ts := s.now().Format(DateLayout)
	req.Header.Set(HeaderAccessKey, s.AccessKey)
	req.Header.Set(HeaderDate, ts)
	req.Header.Set(HeaderSignature, s.Sign(req.Method, req.URL.RequestURI(), ts, body))
}

// Verify checks an inbound signature and rejects timestamps further than
// maxSkew from now. maxSkew <= 0 disables the freshness check.
func (s Signer) Verify(method, path, timestamp string, body []byte, signature string, maxSkew time.Duration) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	if maxSkew > 0 {
		ts, err := time.ParseInLocation(DateLayout, timestamp, time.UTC)
		if err != nil {
			return false
		}
		skew := s.now().Sub(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > maxSkew {
			return false
		}
	}
	expected := s.Sign(method, path, timestamp, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}
