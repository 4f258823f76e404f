package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/events"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
)

// Message is one campaign communication to deliver.
type Message struct {
	CustomerID   string
	CampaignID   string
	Channel      string
	Template     string
	SequenceStep int
	ABTestGroup  string
	Data         map[string]any
}

// Receipt records the hand-off of a message to the delivery transport.
type Receipt struct {
	ID          string
	Channel     string
	DeliveredAt time.Time
}

// Notifier hands campaign communications to the delivery transport.
// Delivery itself happens in an external system; a successful Send means
// the message was accepted for delivery.
type Notifier interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// EventNotifier publishes notification requests through the event
// publisher so the delivery service can consume them.
type EventNotifier struct {
	publisher events.Publisher
}

// NewEventNotifier creates a notifier backed by the event publisher.
func NewEventNotifier(publisher events.Publisher) *EventNotifier {
	return &EventNotifier{publisher: publisher}
}

// Send publishes the message to the notification topic.
func (n *EventNotifier) Send(ctx context.Context, msg Message) (*Receipt, error) {
	req := &events.NotificationRequest{
		ID:           uuid.NewString(),
		CustomerID:   msg.CustomerID,
		CampaignID:   msg.CampaignID,
		Channel:      msg.Channel,
		Template:     msg.Template,
		SequenceStep: msg.SequenceStep,
		ABTestGroup:  msg.ABTestGroup,
		Data:         msg.Data,
		RequestedAt:  time.Now().Unix(),
	}

	if err := n.publisher.PublishNotificationRequest(ctx, req); err != nil {
		metrics.NotifierSends.WithLabelValues(msg.Channel, "error").Inc()
		return nil, err
	}

	metrics.NotifierSends.WithLabelValues(msg.Channel, "accepted").Inc()
	log.Debug(ctx, "Notification handed to delivery transport",
		zap.String("request_id", req.ID),
		zap.String("campaign_id", msg.CampaignID),
		zap.String("channel", msg.Channel),
		zap.Int("sequence_step", msg.SequenceStep))

	return &Receipt{
		ID:          req.ID,
		Channel:     msg.Channel,
		DeliveredAt: time.Unix(req.RequestedAt, 0),
	}, nil
}

// Recorder is a test notifier that records every message.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

// NewRecorder creates an empty recording notifier.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(ctx context.Context, msg Message) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.Messages = append(r.Messages, msg)
	return &Receipt{
		ID:          uuid.NewString(),
		Channel:     msg.Channel,
		DeliveredAt: time.Now(),
	}, nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.Messages))
	copy(out, r.Messages)
	return out
}
