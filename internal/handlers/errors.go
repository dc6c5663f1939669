package handlers

import (
	"errors"
	"net/http"

	"github.com/nethunterzist/7p-platform-sub005/internal/chat"
	"github.com/nethunterzist/7p-platform-sub005/internal/repositories"
)

// statusForError maps the service error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotAMember), errors.Is(err, chat.ErrNotAuthor):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrInvalidParticipants), errors.Is(err, chat.ErrInvalidParent):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, repositories.ErrConversationNotFound), errors.Is(err, repositories.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrTransientStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
