package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"google.golang.org/api/option"
)

// fcmBatchLimit is the most tokens one multicast request accepts.
const fcmBatchLimit = 500

type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// TokenFailure is a per-token delivery failure. Invalid marks tokens the provider no
// longer recognizes.
type TokenFailure struct {
	Token   string
	Err     error
	Invalid bool
}

// MulticastSender delivers one message to many Android tokens.
type MulticastSender interface {
	SendMulticast(ctx context.Context, tokens []string, msg PushMessage) ([]TokenFailure, error)
}

// DeviceSender delivers one message to a single iOS token.
type DeviceSender interface {
	Send(ctx context.Context, token string, msg PushMessage) error
}

type FCM struct {
	client *messaging.Client
}

func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) SendMulticast(ctx context.Context, tokens []string, msg PushMessage) ([]TokenFailure, error) {
	var failures []TokenFailure
	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(tokens))
		batch := tokens[start:end]
		resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
		})
		if err != nil {
			return failures, err
		}
		for i, r := range resp.Responses {
			if r.Success {
				continue
			}
			failures = append(failures, TokenFailure{
				Token:   batch[i],
				Err:     r.Error,
				Invalid: messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error),
			})
		}
	}
	return failures, nil
}

type APNsConfig struct {
	KeyFile    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

type APNs struct {
	client *apns2.Client
	topic  string
}

func NewAPNs(cfg APNsConfig) (*APNs, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("apns key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNs{client: client, topic: cfg.Topic}, nil
}

func (a *APNs) Send(ctx context.Context, deviceToken string, msg PushMessage) error {
	p := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body).Sound("default")
	for k, v := range msg.Data {
		p.Custom(k, v)
	}
	res, err := a.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.topic,
		Payload:     p,
	})
	if err != nil {
		return err
	}
	if !res.Sent() {
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}
