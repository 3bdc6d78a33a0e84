package chat

import (
	"context"

	"tailtrail/internal/models"
)

// ConversationAPI is the slice of the API client the chat REST operations
// need.
type ConversationAPI interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	ChatHistory(ctx context.Context, chatID string) ([]models.Message, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// Service exposes the REST side of chat: history and conversation deletion.
// The live channel is separate (Channel) because its lifecycle is bound to an
// open screen, while these calls are one-shot.
type Service struct {
	api ConversationAPI
}

// NewService creates a chat Service.
func NewService(api ConversationAPI) *Service {
	return &Service{api: api}
}

// Chats lists the current user's conversations.
func (s *Service) Chats(ctx context.Context) ([]models.Chat, error) {
	return s.api.ListChats(ctx)
}

// History fetches the full message history of a conversation.
func (s *Service) History(ctx context.Context, chatID string) ([]models.Message, error) {
	return s.api.ChatHistory(ctx, chatID)
}

// Delete removes a conversation.
func (s *Service) Delete(ctx context.Context, chatID string) error {
	return s.api.DeleteChat(ctx, chatID)
}
