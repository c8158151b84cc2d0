package store

import (
	"context"
)

// ChatModel is a configured provider model with its pricing. Rates are
// USD per token, so fractional-cent costs are the norm.
type ChatModel struct {
	ID          string
	DisplayName string
	Provider    string
	Model       string
	InputRate   float64
	OutputRate  float64
	MaxTokens   int
	Enabled     bool
	CreatedTs   int64
	UpdatedTs   int64
}

type FindChatModel struct {
	ID      *string
	Enabled *bool
}

func (s *Store) UpsertChatModel(ctx context.Context, upsert *ChatModel) (*ChatModel, error) {
	return s.driver.UpsertChatModel(ctx, upsert)
}

func (s *Store) ListChatModels(ctx context.Context, find *FindChatModel) ([]*ChatModel, error) {
	return s.driver.ListChatModels(ctx, find)
}

// GetChatModel returns the matching model, or nil when none exists.
func (s *Store) GetChatModel(ctx context.Context, id string) (*ChatModel, error) {
	models, err := s.ListChatModels(ctx, &FindChatModel{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	return models[0], nil
}
