package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessaging struct {
	sent      []*messaging.Message
	multicast []*messaging.MulticastMessage
	err       error
}

func (f *fakeMessaging) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return "", f.err
	}
	return "projects/x/messages/1", nil
}

func (f *fakeMessaging) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.multicast = append(f.multicast, m)
	if f.err != nil {
		return nil, f.err
	}
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens) - 1, FailureCount: 1}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMSendToDevice(t *testing.T) {
	fake := &fakeMessaging{}
	g := &FCMGateway{client: fake, log: discardLogger()}

	ok := g.SendToDevice(context.Background(), "tok-1", "Bus Nearby", "body", map[string]string{"type": "BUS_NEARBY"})

	require.True(t, ok)
	require.Len(t, fake.sent, 1)
	msg := fake.sent[0]
	assert.Equal(t, "tok-1", msg.Token)
	assert.Equal(t, "Bus Nearby", msg.Notification.Title)
	assert.Equal(t, "BUS_NEARBY", msg.Data["type"])
	assert.Equal(t, androidChannelID, msg.Android.Notification.ChannelID)
	assert.Equal(t, 1, *msg.APNS.Payload.Aps.Badge)
}

func TestFCMSendToDeviceFailure(t *testing.T) {
	g := &FCMGateway{client: &fakeMessaging{err: errors.New("unregistered")}, log: discardLogger()}

	assert.False(t, g.SendToDevice(context.Background(), "tok-1", "t", "b", nil))
}

func TestFCMSendToDevices(t *testing.T) {
	fake := &fakeMessaging{}
	g := &FCMGateway{client: fake, log: discardLogger()}

	success, failure := g.SendToDevices(context.Background(), []string{"a", "b", "c"}, "t", "b", nil)
	assert.Equal(t, 2, success)
	assert.Equal(t, 1, failure)

	success, failure = g.SendToDevices(context.Background(), nil, "t", "b", nil)
	assert.Zero(t, success)
	assert.Zero(t, failure)
	assert.Len(t, fake.multicast, 1)

	g.client = &fakeMessaging{err: errors.New("quota")}
	success, failure = g.SendToDevices(context.Background(), []string{"a", "b"}, "t", "b", nil)
	assert.Equal(t, 0, success)
	assert.Equal(t, 2, failure)
}

func TestFCMSendToTopic(t *testing.T) {
	fake := &fakeMessaging{}
	g := &FCMGateway{client: fake, log: discardLogger()}

	require.True(t, g.SendToTopic(context.Background(), "college-1", "t", "b", nil))
	assert.Equal(t, "college-1", fake.sent[0].Topic)
}
