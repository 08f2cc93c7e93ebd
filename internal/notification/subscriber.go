// Package notification consumes Gmail push notifications from Cloud Pub/Sub and turns them into
// queued delta syncs.
package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/vipul43/mailsync/internal/models"
)

// GmailNotification is the payload Gmail publishes when a watched mailbox changes.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

type AccountFinder interface {
	ListActiveByEmail(ctx context.Context, email string) ([]models.MailboxAccount, error)
}

type SyncJobQueue interface {
	Enqueue(ctx context.Context, accountID string, syncType models.SyncType, trigger models.SyncTrigger) (*models.SyncJob, error)
}

type Subscriber struct {
	client    *pubsub.Client
	accounts  AccountFinder
	jobs      SyncJobQueue
	topicName string
	subName   string
}

func NewSubscriber(ctx context.Context, projectID, topicName, subName, credentialsFile string, accounts AccountFinder, jobs SyncJobQueue) (*Subscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Subscriber{
		client:    client,
		accounts:  accounts,
		jobs:      jobs,
		topicName: topicName,
		subName:   subName,
	}, nil
}

// Start ensures the subscription exists and receives notifications until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	log.Info().Str("subscription", s.subName).Msg("listening for gmail push notifications")

	// Every message is acked: a dropped notification is covered by the next periodic sync.
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive stopped: %w", err)
	}
	return nil
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}

func (s *Subscriber) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.client.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.client.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", s.topicName)
	}

	sub, err = s.client.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %s: %w", s.subName, err)
	}
	log.Info().Str("subscription", s.subName).Msg("created pubsub subscription")
	return sub, nil
}

// handleMessage queues a delta sync for every linked account of the notified address whose
// stored cursor is behind the notification.
func (s *Subscriber) handleMessage(ctx context.Context, data []byte) {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Msg("ignoring malformed push notification")
		return
	}
	email := strings.ToLower(strings.TrimSpace(n.EmailAddress))
	if email == "" {
		log.Warn().Msg("ignoring push notification without email address")
		return
	}

	accounts, err := s.accounts.ListActiveByEmail(ctx, email)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("failed to look up accounts for push notification")
		return
	}

	for _, account := range accounts {
		if !account.Syncable() {
			continue
		}
		if cursorCovers(account.Cursor(), n.HistoryID) {
			log.Debug().
				Str("account_id", account.ID).
				Uint64("history_id", n.HistoryID).
				Msg("push notification already covered by stored cursor")
			continue
		}

		job, err := s.jobs.Enqueue(ctx, account.ID, models.SyncTypeDelta, models.TriggerPush)
		if err != nil {
			log.Error().Err(err).Str("account_id", account.ID).Msg("failed to queue push sync")
			continue
		}
		log.Info().
			Str("account_id", account.ID).
			Str("job_id", job.ID).
			Uint64("history_id", n.HistoryID).
			Msg("queued sync from push notification")
	}
}

// cursorCovers reports whether a sync from the stored cursor would already include historyID.
func cursorCovers(cursor string, historyID uint64) bool {
	if cursor == "" || historyID == 0 {
		return false
	}
	stored, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return false
	}
	return stored >= historyID
}
