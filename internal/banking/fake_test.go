package banking

import (
	"context"
	"time"

	"github.com/hitoshi/subtrack/internal/model"
)

// fakeProvider はテスト用のProvider。各操作は関数フィールドで差し替える。
type fakeProvider struct {
	key         string
	countries   []string
	implemented bool

	createFn       func(ctx context.Context, userID, country string) (*LinkRequest, error)
	exchangeFn     func(ctx context.Context, code string) (*Credential, error)
	accountsFn     func(ctx context.Context, cred *Credential) ([]model.Account, error)
	transactionsFn func(ctx context.Context, cred *Credential, ids []string, r model.DateRange) ([]model.Transaction, error)
}

func (f *fakeProvider) Key() string                  { return f.key }
func (f *fakeProvider) DisplayName() string          { return "Fake " + f.key }
func (f *fakeProvider) SupportedCountries() []string { return f.countries }
func (f *fakeProvider) Implemented() bool            { return f.implemented }

func (f *fakeProvider) CreateLinkRequest(ctx context.Context, userID, country string) (*LinkRequest, error) {
	if f.createFn != nil {
		return f.createFn(ctx, userID, country)
	}
	return nil, ErrProviderNotImplemented
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*Credential, error) {
	if f.exchangeFn != nil {
		return f.exchangeFn(ctx, code)
	}
	return nil, ErrProviderNotImplemented
}

func (f *fakeProvider) FetchAccounts(ctx context.Context, cred *Credential) ([]model.Account, error) {
	if f.accountsFn != nil {
		return f.accountsFn(ctx, cred)
	}
	return nil, ErrProviderNotImplemented
}

func (f *fakeProvider) FetchTransactions(ctx context.Context, cred *Credential, ids []string, r model.DateRange) ([]model.Transaction, error) {
	if f.transactionsFn != nil {
		return f.transactionsFn(ctx, cred, ids, r)
	}
	return nil, ErrProviderNotImplemented
}

func (f *fakeProvider) ListInstitutions(country string) []model.Institution {
	return []model.Institution{{ID: f.key + "-bank", Name: "Bank", CountryCode: country, ProviderID: f.key}}
}

// memorySessions はLinkSessionStoreのテスト実装。
type memorySessions struct {
	sessions map[string]*model.LinkSession
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*model.LinkSession)}
}

func (m *memorySessions) Create(_ context.Context, s *model.LinkSession) error {
	m.sessions[s.StateHash] = s
	return nil
}

func (m *memorySessions) Consume(_ context.Context, hash, userID string, now time.Time) (*model.LinkSession, error) {
	s, ok := m.sessions[hash]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	delete(m.sessions, hash)
	if s.Expired(now) {
		return nil, nil
	}
	return s, nil
}
