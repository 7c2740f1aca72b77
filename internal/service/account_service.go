package service

import (
	"context"
	"encoding/json"

	"github.com/makeasinger/playground/internal/client"
)

// AccountService exposes provider account features
type AccountService struct {
	provider client.Provider
}

func NewAccountService(provider client.Provider) *AccountService {
	return &AccountService{provider: provider}
}

// Credits returns the remaining provider credits
func (s *AccountService) Credits(ctx context.Context) (json.RawMessage, error) {
	return s.provider.Credits(ctx)
}

// BoostStyle expands a short style description into a richer prompt
func (s *AccountService) BoostStyle(ctx context.Context, content string) (json.RawMessage, error) {
	return s.provider.BoostStyle(ctx, content)
}
