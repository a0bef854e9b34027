package notify

import (
	"context"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"diomy/internal/types"
)

// Sender is the part of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCMPusher struct {
	client Sender
	tokens TokenSource
	log    *slog.Logger
}

func NewFCMPusher(client Sender, tokens TokenSource, log *slog.Logger) *FCMPusher {
	return &FCMPusher{client: client, tokens: tokens, log: log}
}

// Push sends an FCM message to the actor's device, if one is registered.
func (p *FCMPusher) Push(ctx context.Context, actorID types.ID, n Notification) {
	token, err := p.tokens.PushToken(ctx, actorID)
	if err != nil {
		p.log.Warn("push: resolve token", "actor_id", actorID, "err", err)
		return
	}
	if token == "" {
		p.log.Debug("push: no device token", "actor_id", actorID)
		return
	}

	msg := &messaging.Message{
		Token: token,
		Data:  n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	messageID, err := p.client.Send(ctx, msg)
	if err != nil {
		p.log.Warn("push: fcm send failed", "actor_id", actorID, "err", err)
		return
	}
	p.log.Debug("push: fcm sent", "actor_id", actorID, "message_id", messageID)
}
