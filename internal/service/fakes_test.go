package service

import (
	"context"
	"sync"
	"time"

	"github.com/vipul43/mailsync/internal/events"
	"github.com/vipul43/mailsync/internal/models"
	"github.com/vipul43/mailsync/internal/repository"
)

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.MailboxAccount
	leased   map[string]string // lease owner by account ID
	disabled map[string]string
	synced   map[string]time.Time

	extendCalls int
}

func newFakeAccountStore(accounts ...*models.MailboxAccount) *fakeAccountStore {
	s := &fakeAccountStore{
		accounts: make(map[string]*models.MailboxAccount),
		leased:   make(map[string]string),
		disabled: make(map[string]string),
		synced:   make(map[string]time.Time),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeAccountStore) GetByID(ctx context.Context, accountID string) (*models.MailboxAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeAccountStore) UpdateSyncCursor(ctx context.Context, accountID string, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID].SyncHistoryID = &cursor
	return nil
}

func (s *fakeAccountStore) MarkSynced(ctx context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[accountID] = at
	return nil
}

func (s *fakeAccountStore) DisableSync(ctx context.Context, accountID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[accountID] = reason
	s.accounts[accountID].SyncEnabled = false
	return nil
}

func (s *fakeAccountStore) AcquireSyncLease(ctx context.Context, accountID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leased[accountID] != "" {
		return "", false, nil
	}
	owner := "owner-" + accountID
	s.leased[accountID] = owner
	return owner, true, nil
}

func (s *fakeAccountStore) ExtendSyncLease(ctx context.Context, accountID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extendCalls++
	return s.leased[accountID] == owner, nil
}

func (s *fakeAccountStore) ReleaseSyncLease(ctx context.Context, accountID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leased[accountID] == owner {
		delete(s.leased, accountID)
	}
	return nil
}

// takeOver hands the lease to another holder, as if the current one had overrun its TTL.
func (s *fakeAccountStore) takeOver(accountID, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leased[accountID] = owner
}

func (s *fakeAccountStore) leaseOwner(accountID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leased[accountID]
}

func (s *fakeAccountStore) cursor(accountID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[accountID].Cursor()
}

type fakeMessageStore struct {
	mu          sync.Mutex
	messages    map[string]models.Message
	upsertCalls int
	batchSizes  []int
}

func newFakeMessageStore(existing ...models.Message) *fakeMessageStore {
	s := &fakeMessageStore{messages: make(map[string]models.Message)}
	for _, m := range existing {
		s.messages[m.ProviderMessageID] = m
	}
	return s
}

func (s *fakeMessageStore) Upsert(ctx context.Context, messages []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.batchSizes = append(s.batchSizes, len(messages))
	for _, m := range messages {
		s.messages[m.ProviderMessageID] = m
	}
	return nil
}

func (s *fakeMessageStore) GetByProviderID(ctx context.Context, accountID, providerMessageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[providerMessageID]
	if !ok || m.AccountID != accountID {
		return nil, repository.ErrMessageNotFound
	}
	return &m, nil
}

func (s *fakeMessageStore) UpdateLabelState(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ProviderMessageID] = *msg
	return nil
}

func (s *fakeMessageStore) DeleteByProviderID(ctx context.Context, accountID, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[providerMessageID]; !ok {
		return false, nil
	}
	delete(s.messages, providerMessageID)
	return true, nil
}

func (s *fakeMessageStore) get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

type fakeSyncLogStore struct {
	created  []*models.SyncLog
	finished []models.SyncLog
}

func (s *fakeSyncLogStore) Create(ctx context.Context, log *models.SyncLog) error {
	log.ID = "log-1"
	s.created = append(s.created, log)
	return nil
}

func (s *fakeSyncLogStore) Finish(ctx context.Context, log *models.SyncLog) error {
	s.finished = append(s.finished, *log)
	return nil
}

type mockMailProvider struct {
	mu sync.Mutex

	listMessageIDsFunc func(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error)
	getMessageFunc     func(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error)
	listChangesFunc    func(ctx context.Context, accessToken, cursor string) (*ChangeSet, error)
	modifyLabelsFunc   func(ctx context.Context, accessToken, messageID string, add, remove []string) error
	sendMessageFunc    func(ctx context.Context, accessToken string, msg *OutgoingMessage) (string, error)

	getCalls int
}

func (m *mockMailProvider) ListMessageIDs(ctx context.Context, accessToken, labelID string, maxResults int) ([]string, error) {
	if m.listMessageIDsFunc != nil {
		return m.listMessageIDsFunc(ctx, accessToken, labelID, maxResults)
	}
	return nil, nil
}

func (m *mockMailProvider) GetMessage(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	if m.getMessageFunc != nil {
		return m.getMessageFunc(ctx, accessToken, messageID)
	}
	return &ProviderMessage{ID: messageID}, nil
}

func (m *mockMailProvider) ListChanges(ctx context.Context, accessToken, cursor string) (*ChangeSet, error) {
	if m.listChangesFunc != nil {
		return m.listChangesFunc(ctx, accessToken, cursor)
	}
	return &ChangeSet{Cursor: cursor}, nil
}

func (m *mockMailProvider) ModifyLabels(ctx context.Context, accessToken, messageID string, add, remove []string) error {
	if m.modifyLabelsFunc != nil {
		return m.modifyLabelsFunc(ctx, accessToken, messageID, add, remove)
	}
	return nil
}

func (m *mockMailProvider) SendMessage(ctx context.Context, accessToken string, msg *OutgoingMessage) (string, error) {
	if m.sendMessageFunc != nil {
		return m.sendMessageFunc(ctx, accessToken, msg)
	}
	return "sent-1", nil
}

type mockTokenSource struct {
	ensureFunc func(ctx context.Context, account *models.MailboxAccount) (string, error)
}

func (m *mockTokenSource) EnsureFreshToken(ctx context.Context, account *models.MailboxAccount) (string, error) {
	if m.ensureFunc != nil {
		return m.ensureFunc(ctx, account)
	}
	return "access-token", nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// prefixCipher stands in for tokencrypt in tests.
type prefixCipher struct{}

func (prefixCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (prefixCipher) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return "", errBadCiphertext
	}
	return ciphertext[4:], nil
}

type cipherError string

func (e cipherError) Error() string { return string(e) }

const errBadCiphertext = cipherError("bad ciphertext")

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
