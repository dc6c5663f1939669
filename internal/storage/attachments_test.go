package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAttachmentURLSignsToken(t *testing.T) {
	store := NewSignedURLStore("https://blobs.example.com", "secret")

	signed, err := store.GetAttachmentURL(context.Background(), "blob-1", 60)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(signed, "https://blobs.example.com/attachments/blob-1?token="))

	parsed, err := url.Parse(signed)
	require.NoError(t, err)

	claims := &attachmentClaims{}
	token, err := jwt.ParseWithClaims(parsed.Query().Get("token"), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	assert.Equal(t, "blob-1", claims.AttachmentID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestGetAttachmentURLDefaultsTTL(t *testing.T) {
	store := NewSignedURLStore("https://blobs.example.com", "secret")

	signed, err := store.GetAttachmentURL(context.Background(), "blob-1", 0)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	claims := &attachmentClaims{}
	_, err = jwt.ParseWithClaims(parsed.Query().Get("token"), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestGetAttachmentURLRejectsEmptyID(t *testing.T) {
	store := NewSignedURLStore("https://blobs.example.com", "secret")

	_, err := store.GetAttachmentURL(context.Background(), "", 60)
	require.Error(t, err)
}
