package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/service"
)

const (
	userID = "me"

	// listPageSize is the largest page the messages.list endpoint returns.
	listPageSize    = 500
	historyPageSize = 500
)

var scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// Client talks to the Gmail API and Google's OAuth endpoints on behalf of linked mailboxes.
type Client struct {
	oauth *oauth2.Config
	cb    *gobreaker.CircuitBreaker

	// serviceOpts replaces the per-call token source; set by tests to point at a fake server.
	serviceOpts []option.ClientOption
}

func NewClient(clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		cb: newCircuitBreaker(),
	}
}

func newCircuitBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Client errors say nothing about Gmail's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// AuthCodeURL returns the consent URL. Offline access with forced consent makes Google return a
// refresh token even when the user linked the mailbox before.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*service.LinkedCredentials, error) {
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return &service.LinkedCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// RefreshAccessToken refreshes the OAuth2 access token.
// A rejected refresh token (invalid_grant) is reported as service.ErrTokenRevoked.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*service.TokenRefreshResult, error) {
	tokenSource := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", service.ErrTokenRevoked, retrieveErr.ErrorDescription)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &service.TokenRefreshResult{
		AccessToken:  newToken.AccessToken,
		ExpiresAt:    newToken.Expiry,
		RefreshToken: refreshToken,
	}
	if newToken.RefreshToken != "" {
		result.RefreshToken = newToken.RefreshToken
	}

	log.Debug().Time("expires_at", result.ExpiresAt).Msg("access token refreshed")
	return result, nil
}

// GetProfileEmail returns the address of the mailbox the token belongs to.
func (c *Client) GetProfileEmail(ctx context.Context, accessToken string) (string, error) {
	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return "", err
	}

	var profile *gmail.Profile
	err = c.execute("profile", func() error {
		var apiErr error
		profile, apiErr = svc.Users.GetProfile(userID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", classify("get profile", err)
	}
	return profile.EmailAddress, nil
}

// ListMessageIDs pages through the label until maxResults IDs are collected, newest first.
func (c *Client) ListMessageIDs(ctx context.Context, accessToken string, labelID string, maxResults int) ([]string, error) {
	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var (
		ids       []string
		pageToken string
	)
	for len(ids) < maxResults {
		call := svc.Users.Messages.List(userID).
			LabelIds(labelID).
			MaxResults(int64(min(maxResults-len(ids), listPageSize))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := c.execute("list", func() error {
			var apiErr error
			resp, apiErr = call.Do()
			return apiErr
		})
		if err != nil {
			return nil, classify("list messages", err)
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

// GetMessage fetches a single message in full format.
func (c *Client) GetMessage(ctx context.Context, accessToken string, messageID string) (*service.ProviderMessage, error) {
	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = c.execute("get", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, classify("get message "+messageID, err)
	}
	return convertMessage(msg), nil
}

// ListChanges reads every history page since the cursor.
// Gmail answers 404 once the start history ID is too old; that is reported as ErrCursorExpired.
func (c *Client) ListChanges(ctx context.Context, accessToken string, cursor string) (*service.ChangeSet, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unusable history cursor %q: %w", cursor, service.ErrCursorExpired)
	}

	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	changes := &service.ChangeSet{Cursor: cursor}
	latest := startID
	pageToken := ""
	for {
		call := svc.Users.History.List(userID).
			StartHistoryId(startID).
			HistoryTypes("messageAdded", "messageDeleted", "labelAdded", "labelRemoved").
			MaxResults(historyPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListHistoryResponse
		err := c.execute("history", func() error {
			var apiErr error
			resp, apiErr = call.Do()
			return apiErr
		})
		if err != nil {
			if statusCode(err) == http.StatusNotFound {
				return nil, fmt.Errorf("history %s: %w", cursor, service.ErrCursorExpired)
			}
			return nil, classify("list history", err)
		}

		collectHistory(changes, resp.History)
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	changes.Cursor = strconv.FormatUint(latest, 10)
	return changes, nil
}

func collectHistory(changes *service.ChangeSet, records []*gmail.History) {
	for _, h := range records {
		for _, added := range h.MessagesAdded {
			if added.Message != nil {
				changes.Added = append(changes.Added, added.Message.Id)
			}
		}
		for _, deleted := range h.MessagesDeleted {
			if deleted.Message != nil {
				changes.Deleted = append(changes.Deleted, deleted.Message.Id)
			}
		}
		for _, la := range h.LabelsAdded {
			if la.Message != nil {
				changes.LabelChanges = append(changes.LabelChanges, service.LabelChange{
					MessageID: la.Message.Id,
					Added:     la.LabelIds,
				})
			}
		}
		for _, lr := range h.LabelsRemoved {
			if lr.Message != nil {
				changes.LabelChanges = append(changes.LabelChanges, service.LabelChange{
					MessageID: lr.Message.Id,
					Removed:   lr.LabelIds,
				})
			}
		}
	}
}

func (c *Client) ModifyLabels(ctx context.Context, accessToken string, messageID string, add, remove []string) error {
	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	err = c.execute("modify", func() error {
		_, apiErr := svc.Users.Messages.Modify(userID, messageID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return classify("modify message "+messageID, err)
	}
	return nil
}

// SendMessage sends an RFC 5322 message and returns the new Gmail message ID.
func (c *Client) SendMessage(ctx context.Context, accessToken string, msg *service.OutgoingMessage) (string, error) {
	raw, err := composeMessage(msg, time.Now())
	if err != nil {
		return "", err
	}

	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return "", err
	}

	var sent *gmail.Message
	err = c.execute("send", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send(userID, &gmail.Message{
			Raw: base64.URLEncoding.EncodeToString(raw),
		}).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", classify("send message", err)
	}
	return sent.Id, nil
}

// Watch registers push notifications for new inbox activity on the given Pub/Sub topic.
func (c *Client) Watch(ctx context.Context, accessToken string, topicName string) error {
	svc, err := c.newService(ctx, accessToken)
	if err != nil {
		return err
	}

	var resp *gmail.WatchResponse
	err = c.execute("watch", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Watch(userID, &gmail.WatchRequest{
			TopicName: topicName,
			LabelIds:  []string{models.LabelInbox},
		}).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return classify("watch", err)
	}

	log.Info().
		Uint64("history_id", resp.HistoryId).
		Time("expires_at", time.UnixMilli(resp.Expiration)).
		Msg("gmail watch registered")
	return nil
}

func (c *Client) newService(ctx context.Context, accessToken string) (*gmail.Service, error) {
	opts := c.serviceOpts
	if len(opts) == 0 {
		token := &oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		}
		opts = []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

func (c *Client) execute(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Warn().Str("operation", operation).Str("state", c.cb.State().String()).Msg("gmail call rejected by circuit breaker")
	}
	return err
}

// tripsBreaker reports whether err points at Gmail being unhealthy rather than at the request.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code := statusCode(err)
	if code == 0 {
		return true
	}
	return code == http.StatusTooManyRequests || code >= 500
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// classify maps Gmail API failures onto the service error vocabulary.
func classify(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &service.ProviderTransientError{Op: op, StatusCode: http.StatusServiceUnavailable, Err: err}
	}

	code := statusCode(err)
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, service.ErrMessageNotFound)
	case code == http.StatusTooManyRequests || code >= 500:
		return &service.ProviderTransientError{Op: op, StatusCode: code, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
