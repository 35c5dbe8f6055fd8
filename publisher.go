package gdpubsub

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/coregx/gdpubsub/model"
)

// Publisher accepts published messages and fans them out to the delivery
// queues of all matching subscriptions.
type Publisher struct {
	topicRepo TopicRepository
	registry  *Registry
	backend   QueueBackend
	logger    Logger
	clusterID int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher) error

// NewPublisher creates a new Publisher with the provided options.
//
// Required options:
//   - WithPublisherTopics: topic repository
//   - WithPublisherRegistry: subscriber resolution
//   - WithPublisherBackend: queue backend
//   - WithPublisherLogger: logger instance
func NewPublisher(opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply publisher option", err)
		}
	}

	if p.topicRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "TopicRepository is required (use WithPublisherTopics)")
	}
	if p.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "Registry is required (use WithPublisherRegistry)")
	}
	if p.backend == nil {
		return nil, NewError(ErrCodeConfiguration, "QueueBackend is required (use WithPublisherBackend)")
	}
	if p.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithPublisherLogger)")
	}

	return p, nil
}

// WithPublisherTopics sets the topic repository.
func WithPublisherTopics(repo TopicRepository) PublisherOption {
	return func(p *Publisher) error {
		if repo == nil {
			return fmt.Errorf("topic repository cannot be nil")
		}
		p.topicRepo = repo
		return nil
	}
}

// WithPublisherRegistry sets the registry used to resolve subscribers.
func WithPublisherRegistry(registry *Registry) PublisherOption {
	return func(p *Publisher) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		p.registry = registry
		return nil
	}
}

// WithPublisherBackend sets the queue backend.
func WithPublisherBackend(backend QueueBackend) PublisherOption {
	return func(p *Publisher) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		p.backend = backend
		return nil
	}
}

// WithPublisherLogger sets the logger instance.
func WithPublisherLogger(logger Logger) PublisherOption {
	return func(p *Publisher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// WithPublisherCluster sets the cluster scope stamped on published messages.
func WithPublisherCluster(clusterID int64) PublisherOption {
	return func(p *Publisher) error {
		p.clusterID = clusterID
		return nil
	}
}

// PublishRequest represents a request to publish a message.
type PublishRequest struct {
	TopicName   string     // Topic to publish to (required)
	Data        string     // Message payload
	Priority    int        // 1..9, 0 means default
	Expiration  int64      // Seconds until expiry, 0 means the topic default
	PubCorrelID string     // Publisher-supplied correlation id (optional)
	ExtPubTime  *time.Time // Publisher's own authoritative timestamp (optional)
}

// Validate checks the request fields.
func (r PublishRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TopicName, validation.Required),
		validation.Field(&r.Priority, validation.Min(0), validation.Max(model.PriorityMax)),
		validation.Field(&r.Expiration, validation.Min(0)),
	)
}

// PublishResult represents the result of a publish operation.
type PublishResult struct {
	PubMsgID      string   // Publication id assigned to the message
	EnqueuedCount int      // Number of delivery records created
	SubKeys       []string // Subscriptions the message fanned out to
}

// Publish persists a message and creates one delivery record for every
// active, non-internal subscription of the topic, as one all-or-nothing
// operation. A message published to a topic with no subscribers is still
// persisted - it stays available for audit until cleanup removes it.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid publish request", err)
	}

	topic, err := p.topicRepo.GetByName(ctx, req.TopicName)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewErrorWithCause(ErrCodeNotFound, fmt.Sprintf("topic not found: %s", req.TopicName), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load topic", err)
	}
	if !topic.IsActive {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("topic is not active: %s", req.TopicName))
	}

	expiration := req.Expiration
	if expiration == 0 {
		expiration = topic.DefaultExpiry
	}

	now := time.Now()
	msg := model.NewMessage(uuid.NewString(), topic.ID, p.clusterID, req.Data, req.Priority, expiration, now)
	msg.PubCorrelID = req.PubCorrelID
	if req.ExtPubTime != nil {
		msg.ExtPubTime = sql.NullTime{Time: *req.ExtPubTime, Valid: true}
	}

	subs, err := p.registry.ResolveSubscribers(ctx, topic.ID)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to resolve subscribers", err)
	}

	enqueued, err := p.backend.Publish(ctx, msg, subs)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to publish message", err)
	}

	subKeys := make([]string, 0, len(subs))
	for _, sub := range subs {
		subKeys = append(subKeys, sub.SubKey)
	}

	if enqueued == 0 {
		p.logger.Warnf("No subscribers for topic=%s, message %s kept for audit", req.TopicName, msg.PubMsgID)
	} else {
		p.logger.Infof("Published message %s to %d queues (topic=%s, priority=%d)",
			msg.PubMsgID, enqueued, req.TopicName, msg.Priority)
	}

	return &PublishResult{
		PubMsgID:      msg.PubMsgID,
		EnqueuedCount: enqueued,
		SubKeys:       subKeys,
	}, nil
}
