package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"fleet-monitor/realtime/internal/domain"
)

const androidChannelID = "high_importance_channel"

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMGateway delivers push notifications through Firebase Cloud Messaging.
type FCMGateway struct {
	client messagingClient
	log    domain.Logger
}

func NewFCMGateway(ctx context.Context, credentialsFile string, log domain.Logger) (*FCMGateway, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase messaging: %w", err)
	}
	return &FCMGateway{client: client, log: log}, nil
}

func (g *FCMGateway) SendToDevice(ctx context.Context, address, title, body string, data map[string]string) bool {
	msg := &messaging.Message{
		Token:        address,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:             androidChannelID,
				Priority:              messaging.PriorityHigh,
				DefaultSound:          true,
				DefaultVibrateTimings: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: title, Body: body},
					Badge: intPtr(1),
					Sound: "default",
				},
			},
		},
	}
	id, err := g.client.Send(ctx, msg)
	if err != nil {
		g.log.Error("push to device failed", "error", err)
		return false
	}
	g.log.Debug("push to device sent", "message_id", id)
	return true
}

func (g *FCMGateway) SendToDevices(ctx context.Context, addresses []string, title, body string, data map[string]string) (int, int) {
	if len(addresses) == 0 {
		return 0, 0
	}
	resp, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       addresses,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: androidChannelID,
				Priority:  messaging.PriorityHigh,
			},
		},
	})
	if err != nil {
		g.log.Error("multicast push failed", "devices", len(addresses), "error", err)
		return 0, len(addresses)
	}
	g.log.Info("multicast push sent", "success", resp.SuccessCount, "failure", resp.FailureCount)
	return resp.SuccessCount, resp.FailureCount
}

func (g *FCMGateway) SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) bool {
	_, err := g.client.Send(ctx, &messaging.Message{
		Topic:        topic,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		g.log.Error("push to topic failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// LogGateway stands in for FCM when no credentials are configured. Every
// send is logged and reported as delivered.
type LogGateway struct {
	log domain.Logger
}

func NewLogGateway(log domain.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) SendToDevice(_ context.Context, address, title, body string, data map[string]string) bool {
	g.log.Info("push (log only)", "device", address, "title", title, "body", body, "data", data)
	return true
}

func (g *LogGateway) SendToDevices(_ context.Context, addresses []string, title, body string, _ map[string]string) (int, int) {
	g.log.Info("push (log only)", "devices", len(addresses), "title", title, "body", body)
	return len(addresses), 0
}

func (g *LogGateway) SendToTopic(_ context.Context, topic, title, body string, _ map[string]string) bool {
	g.log.Info("push (log only)", "topic", topic, "title", title, "body", body)
	return true
}

func intPtr(v int) *int { return &v }
