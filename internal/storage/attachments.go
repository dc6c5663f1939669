package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignedURLStore mints time-bounded download URLs for attachments held by
// the platform's blob gateway. The gateway validates the token with the
// shared signing secret; this service never touches the blob bytes.
type SignedURLStore struct {
	baseURL string
	secret  []byte
}

func NewSignedURLStore(baseURL, secret string) *SignedURLStore {
	return &SignedURLStore{baseURL: baseURL, secret: []byte(secret)}
}

type attachmentClaims struct {
	AttachmentID string `json:"attachment_id"`
	jwt.RegisteredClaims
}

// GetAttachmentURL returns a URL that grants access to one attachment for
// ttlSeconds.
func (s *SignedURLStore) GetAttachmentURL(ctx context.Context, attachmentID string, ttlSeconds int) (string, error) {
	if attachmentID == "" {
		return "", errors.New("empty attachment id")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}

	now := time.Now()
	claims := attachmentClaims{
		AttachmentID: attachmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign attachment token: %w", err)
	}

	return fmt.Sprintf("%s/attachments/%s?token=%s", s.baseURL, url.PathEscape(attachmentID), url.QueryEscape(token)), nil
}
