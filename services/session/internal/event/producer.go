package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/rentchain/pkg/kafka"
	"github.com/utafrali/rentchain/pkg/logger"
	"github.com/utafrali/rentchain/services/session/internal/domain"
)

// Topics for identity and session events.
var (
	TopicIdentityRegistered   = pkgkafka.Topic("identity", "registered")
	TopicIdentityWalletLinked = pkgkafka.Topic("identity", "wallet_linked")
	TopicIdentityRoleChanged  = pkgkafka.Topic("identity", "role_changed")
	TopicSessionRevoked       = pkgkafka.Topic("session", "revoked")
)

// Aggregate type constant.
const AggregateTypeIdentity = "identity"

// Source identifier for events originating from the session service.
const SourceSessionService = "session-service"

// Revocation reasons carried by session.revoked.
const (
	RevokedByLogin  = "login"
	RevokedByLogout = "logout"
)

// IdentityRegisteredData is the payload for identity.registered.
type IdentityRegisteredData struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Role          string `json:"role"`
	Method        string `json:"method"`
}

// WalletLinkedData is the payload for identity.wallet_linked.
type WalletLinkedData struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
}

// RoleChangedData is the payload for identity.role_changed.
type RoleChangedData struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// SessionRevokedData is the payload for session.revoked.
type SessionRevokedData struct {
	IdentityID string `json:"identityId"`
	Revoked    int64  `json:"revoked"`
	Reason     string `json:"reason"`
}

// Publisher is the part of *pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// NopPublisher discards events. It stands in for Kafka when KAFKA_ENABLED is false.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, *pkgkafka.Event) error { return nil }

// Producer publishes identity domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the session service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// PublishIdentityRegistered publishes identity.registered. method is
// "password" or "wallet".
func (p *Producer) PublishIdentityRegistered(ctx context.Context, identity *domain.Identity, method string) error {
	return p.publish(ctx, TopicIdentityRegistered, identity.ID, IdentityRegisteredData{
		ID:            identity.ID,
		Username:      identity.Username,
		Email:         identity.Email,
		WalletAddress: identity.WalletAddress,
		Role:          string(identity.Role),
		Method:        method,
	})
}

// PublishWalletLinked publishes identity.wallet_linked.
func (p *Producer) PublishWalletLinked(ctx context.Context, identity *domain.Identity) error {
	return p.publish(ctx, TopicIdentityWalletLinked, identity.ID, WalletLinkedData{
		ID:            identity.ID,
		WalletAddress: identity.WalletAddress,
	})
}

// PublishRoleChanged publishes identity.role_changed.
func (p *Producer) PublishRoleChanged(ctx context.Context, identityID string, from, to domain.Role) error {
	return p.publish(ctx, TopicIdentityRoleChanged, identityID, RoleChangedData{
		ID:   identityID,
		From: string(from),
		To:   string(to),
	})
}

// PublishSessionRevoked publishes session.revoked.
func (p *Producer) PublishSessionRevoked(ctx context.Context, identityID string, revoked int64, reason string) error {
	return p.publish(ctx, TopicSessionRevoked, identityID, SessionRevokedData{
		IdentityID: identityID,
		Revoked:    revoked,
		Reason:     reason,
	})
}

func (p *Producer) publish(ctx context.Context, topic, identityID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, identityID, AggregateTypeIdentity, SourceSessionService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("identity_id", identityID),
	)
	return nil
}
