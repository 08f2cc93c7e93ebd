package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vipul43/mailsync/internal/events"
	"github.com/vipul43/mailsync/internal/models"
)

// DueActionPageSize caps how many due actions one tick picks up.
const DueActionPageSize = 50

type ActionStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledAction, error)
	RunPending(ctx context.Context, actionID string, fn func(ctx context.Context, action *models.ScheduledAction) error) (bool, error)
}

type DraftStore interface {
	GetByID(ctx context.Context, draftID string) (*models.Draft, error)
	Delete(ctx context.Context, draftID string) error
}

type AccountReader interface {
	GetByID(ctx context.Context, accountID string) (*models.MailboxAccount, error)
}

// TickResult summarizes one pass over due actions.
type TickResult struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ActionProcessor executes due scheduled actions.
type ActionProcessor struct {
	actions   ActionStore
	accounts  AccountReader
	drafts    DraftStore
	messages  MessageStore
	provider  MailProvider
	tokens    AccessTokenSource
	publisher EventPublisher
	now       func() time.Time
}

func NewActionProcessor(
	actions ActionStore,
	accounts AccountReader,
	drafts DraftStore,
	messages MessageStore,
	provider MailProvider,
	tokens AccessTokenSource,
	publisher EventPublisher,
) *ActionProcessor {
	return &ActionProcessor{
		actions:   actions,
		accounts:  accounts,
		drafts:    drafts,
		messages:  messages,
		provider:  provider,
		tokens:    tokens,
		publisher: publisher,
		now:       time.Now,
	}
}

// Tick runs every pending action whose time has come. Each action succeeds or fails on its own;
// only a failure to list due actions is returned.
func (p *ActionProcessor) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	due, err := p.actions.ListDue(ctx, p.now().UTC(), DueActionPageSize)
	if err != nil {
		return result, fmt.Errorf("failed to list due actions: %w", err)
	}
	result.Due = len(due)

	for _, action := range due {
		if ctx.Err() != nil {
			break
		}

		var execErr error
		executed, err := p.actions.RunPending(ctx, action.ID, func(ctx context.Context, a *models.ScheduledAction) error {
			execErr = p.execute(ctx, a)
			return execErr
		})

		logger := log.With().
			Str("action_id", action.ID).
			Str("action_type", string(action.ActionType)).
			Logger()

		switch {
		case err != nil:
			result.Skipped++
			logger.Error().Err(err).Msg("failed to run scheduled action, it stays pending")
		case !executed:
			result.Skipped++
			logger.Debug().Msg("scheduled action already handled elsewhere")
		case execErr != nil:
			result.Failed++
			logger.Warn().Err(execErr).Msg("scheduled action failed")
			event := events.New(events.ActionFailed, deref(action.AccountID), action.ID)
			event.Detail = execErr.Error()
			publish(ctx, p.publisher, event)
		default:
			result.Completed++
			logger.Info().Msg("scheduled action completed")
			publish(ctx, p.publisher, events.New(events.ActionCompleted, deref(action.AccountID), action.ID))
		}
	}

	if result.Due > 0 {
		log.Info().
			Int("due", result.Due).
			Int("completed", result.Completed).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("scheduled action tick finished")
	}
	return result, nil
}

func (p *ActionProcessor) execute(ctx context.Context, action *models.ScheduledAction) error {
	payload, err := action.DecodePayload()
	if err != nil {
		return err
	}

	switch pl := payload.(type) {
	case models.SnoozePayload:
		return p.unsnooze(ctx, action, pl)
	case models.SendLaterPayload:
		return p.sendLater(ctx, action, pl)
	default:
		return fmt.Errorf("unsupported action type %q", action.ActionType)
	}
}

// unsnooze puts the message back in the inbox with the labels it had when it was snoozed.
func (p *ActionProcessor) unsnooze(ctx context.Context, action *models.ScheduledAction, payload models.SnoozePayload) error {
	if action.AccountID == nil {
		return errors.New("snooze action has no account")
	}
	account, err := p.loadAccount(ctx, *action.AccountID)
	if err != nil {
		return err
	}

	token, err := p.tokens.EnsureFreshToken(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	add := uniqueIDs(append([]string{models.LabelInbox}, payload.OriginalLabels...), nil)
	if err := p.provider.ModifyLabels(ctx, token, payload.ProviderMessageID, add, nil); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return fmt.Errorf("message %s no longer exists: %w", payload.ProviderMessageID, err)
		}
		return fmt.Errorf("failed to restore message %s: %w", payload.ProviderMessageID, err)
	}

	msg, err := p.messages.GetByProviderID(ctx, account.ID, payload.ProviderMessageID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("action_id", action.ID).Msg("failed to load local message after unsnooze")
		}
		return nil
	}
	msg.ApplyLabelChanges(add, nil)
	if err := p.messages.UpdateLabelState(ctx, msg); err != nil {
		log.Warn().Err(err).Str("action_id", action.ID).Msg("failed to update local message after unsnooze")
	}
	return nil
}

func (p *ActionProcessor) sendLater(ctx context.Context, action *models.ScheduledAction, payload models.SendLaterPayload) error {
	draft, err := p.drafts.GetByID(ctx, payload.DraftID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("draft %s not found", payload.DraftID)
		}
		return fmt.Errorf("failed to load draft %s: %w", payload.DraftID, err)
	}

	accountID := draft.AccountID
	if accountID == "" && action.AccountID != nil {
		accountID = *action.AccountID
	}
	account, err := p.loadAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("cannot send draft %s: %w", draft.ID, err)
	}

	if len(draft.ToAddresses)+len(draft.CcAddresses)+len(draft.BccAddresses) == 0 {
		return fmt.Errorf("draft %s has no recipients", draft.ID)
	}

	token, err := p.tokens.EnsureFreshToken(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	sentID, err := p.provider.SendMessage(ctx, token, &OutgoingMessage{
		From:     account.EmailAddress,
		To:       draft.ToAddresses,
		Cc:       draft.CcAddresses,
		Bcc:      draft.BccAddresses,
		Subject:  draft.Subject,
		TextBody: draft.BodyText,
		HTMLBody: draft.BodyHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to send draft %s: %w", draft.ID, err)
	}

	if err := p.drafts.Delete(ctx, draft.ID); err != nil {
		log.Warn().Err(err).Str("draft_id", draft.ID).Msg("draft sent but could not be deleted")
	}
	log.Info().Str("action_id", action.ID).Str("provider_message_id", sentID).Msg("draft sent")
	return nil
}

func (p *ActionProcessor) loadAccount(ctx context.Context, accountID string) (*models.MailboxAccount, error) {
	if accountID == "" {
		return nil, errors.New("action has no account")
	}
	account, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("account %s not found", accountID)
		}
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	return account, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
