package socsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PubSubPublisher publishes continuation messages to a Pub/Sub topic.
type PubSubPublisher struct {
	Client      *pubsub.Client
	TopicName   string
	CreateTopic bool

	once     sync.Once
	topic    *pubsub.Topic
	topicErr error
}

func (p *PubSubPublisher) getTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.once.Do(func() {
		if p.CreateTopic {
			p.topic, p.topicErr = config.CreateTopicIfNotExists(ctx, p.Client, p.TopicName)
			return
		}
		p.topic = p.Client.Topic(p.TopicName)
	})
	return p.topic, p.topicErr
}

func (p *PubSubPublisher) PublishContinuation(ctx context.Context, msg ContinuationMessage) (string, error) {
	topic, err := p.getTopic(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	res := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"owner":  msg.Owner,
			"kind":   msg.Kind,
			"run_id": strconv.FormatUint(uint64(msg.RunId), 10),
		},
	})
	return res.Get(ctx)
}

// Stop flushes pending publishes.
func (p *PubSubPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

// NewPublisherFromSettings returns a Pub/Sub publisher in pubsub mode and nil
// in inline mode, which makes the service fall back to in-process resumption.
func NewPublisherFromSettings(ctx context.Context, settings config.SyncSettings) (*PubSubPublisher, error) {
	if settings.ContinuationMode != config.ContinuationModePubSub {
		return nil, nil
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		return nil, err
	}
	return &PubSubPublisher{Client: client, TopicName: settings.Topic, CreateTopic: settings.CreateTopic}, nil
}

func decodeContinuation(data []byte) (ContinuationMessage, error) {
	var msg ContinuationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.RunId == 0 {
		return msg, errors.New("continuation message without run_id")
	}
	return msg, nil
}

// PubSubPushHandler resumes continuations delivered by a push subscription.
// Malformed messages are acknowledged; infrastructure failures return 500 so Pub/Sub redelivers.
func PubSubPushHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.PubSubPushEnabled() {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			svc.Logger.Warn("pubsub push: invalid envelope: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}
		msg, err := decodeContinuation(envelope.Message.Data)
		if err != nil {
			svc.Logger.WithField("message_id", envelope.Message.ID).Warn("pubsub push: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}

		if err := svc.Resume(c.Request.Context(), msg.RunId); err != nil {
			config.LogError(svc.Logger, "socsync", "PubSubPushHandler", "resume continuation",
				logrus.Fields{"run_id": msg.RunId, "message_id": envelope.Message.ID}, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ReceiveContinuations consumes a pull subscription until ctx is done.
func ReceiveContinuations(ctx context.Context, sub *pubsub.Subscription, svc *Service) error {
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg, err := decodeContinuation(m.Data)
		if err != nil {
			svc.Logger.WithField("message_id", m.ID).Warn("pubsub pull: " + err.Error())
			m.Ack()
			return
		}
		if err := svc.Resume(ctx, msg.RunId); err != nil {
			config.LogError(svc.Logger, "socsync", "ReceiveContinuations", "resume continuation",
				logrus.Fields{"run_id": msg.RunId, "message_id": m.ID}, err)
			m.Nack()
			return
		}
		m.Ack()
	})
}
