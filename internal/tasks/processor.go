package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"backoffice/internal/models"
	"backoffice/internal/repository"
)

const TypeRevokeProviderToken = "revoke_provider_token"

type TaskPayload struct {
	Type      string `json:"type"`
	Provider  string `json:"provider"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (p TaskPayload) values() map[string]any {
	return map[string]any{
		"type":      p.Type,
		"provider":  p.Provider,
		"userId":    p.UserID,
		"sessionId": p.SessionID,
	}
}

type CredentialStore interface {
	FindByUser(ctx context.Context, provider, userID string) (models.OAuthCredential, error)
	Delete(ctx context.Context, provider, providerAccountID string) error
}

// Revoker is the provider side of logout. It logs its own failures.
type Revoker interface {
	RevokeProviderTokens(ctx context.Context, token string)
}

type Processor struct {
	credentials CredentialStore
	revoker     Revoker
	logger      zerolog.Logger
}

func NewProcessor(credentials CredentialStore, revoker Revoker, logger zerolog.Logger) *Processor {
	return &Processor{
		credentials: credentials,
		revoker:     revoker,
		logger:      logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case TypeRevokeProviderToken:
		return p.handleRevoke(ctx, payload)
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

// handleRevoke revokes the stored provider grant and forgets it. The refresh
// token is preferred since revoking it also invalidates derived access tokens.
func (p *Processor) handleRevoke(ctx context.Context, payload TaskPayload) error {
	if payload.Provider == "" || payload.UserID == "" {
		p.logger.Warn().Interface("payload", payload).Msg("revoke task missing provider or user")
		return nil
	}

	cred, err := p.credentials.FindByUser(ctx, payload.Provider, payload.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			p.logger.Debug().Str("user_id", payload.UserID).Msg("no provider credential to revoke")
			return nil
		}
		return fmt.Errorf("load credential: %w", err)
	}

	token := cred.RefreshToken
	if token == "" {
		token = cred.AccessToken
	}
	p.revoker.RevokeProviderTokens(ctx, token)

	if err := p.credentials.Delete(ctx, cred.Provider, cred.ProviderAccountID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	p.logger.Info().
		Str("user_id", payload.UserID).
		Str("session_id", payload.SessionID).
		Str("provider", payload.Provider).
		Msg("provider grant revoked")
	return nil
}
