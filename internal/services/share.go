package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"taskgraph/internal/config"
	"taskgraph/internal/storage"
)

// ReportPathPrefix is where signed report links are served.
const ReportPathPrefix = "/reports/"

func SignURL(path string, expiresAt int64, secret string) string {
	signature := computeSignature(path, expiresAt, secret)
	return fmt.Sprintf("%s?exp=%d&sig=%s", path, expiresAt, signature)
}

func ValidateSignature(path string, expiresAt int64, signature, secret string) bool {
	expected := computeSignature(path, expiresAt, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ShareService issues expiring links to task graph reports.
type ShareService struct {
	secret  string
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewShareService(cfg config.Config) *ShareService {
	return &ShareService{
		secret:  cfg.ShareSecret,
		baseURL: cfg.BaseURL,
		ttl:     cfg.ShareTTL,
		now:     time.Now,
	}
}

func (s *ShareService) Generate(hash string) (string, time.Time, error) {
	if !storage.ValidHash(hash) {
		return "", time.Time{}, fmt.Errorf("invalid transcript hash %q", hash)
	}
	expiresAt := s.now().Add(s.ttl)
	signedPath := SignURL(ReportPathPrefix+hash, expiresAt.Unix(), s.secret)

	return s.baseURL + signedPath, expiresAt, nil
}

// Validate checks the signature and rejects links past their expiry.
func (s *ShareService) Validate(hash string, expires int64, signature string) bool {
	if s.now().Unix() > expires {
		return false
	}
	return ValidateSignature(ReportPathPrefix+hash, expires, signature, s.secret)
}

func computeSignature(path string, expiresAt int64, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(fmt.Sprintf("%s:%d", path, expiresAt)))
	sig := h.Sum(nil)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sig)
}
