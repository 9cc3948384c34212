package banking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/subtrack/internal/model"
)

// LinkSessionStore は連携セッションの永続化に必要なインターフェース。
// repository.LinkSessionRepositoryの部分集合として定義する。
type LinkSessionStore interface {
	Create(ctx context.Context, session *model.LinkSession) error
	// Consume はuserIDが所有する未期限のセッションを削除して返す。
	// 存在しない・期限切れ・他ユーザーの所有の場合はnilを返し、他ユーザーの行は削除しない。
	Consume(ctx context.Context, stateHash, userID string, now time.Time) (*model.LinkSession, error)
}

// TransactionStore は正規化済み取引の保存先。
type TransactionStore interface {
	// UpsertTransactions はプロバイダーと取引IDをキーに冪等に保存し、保存件数を返す。
	UpsertTransactions(ctx context.Context, userID string, txs []model.Transaction) (int, error)
}

// Detector はサブスクリプション検出器。検出ロジックはこのサービスの外部にある。
type Detector interface {
	Detect(ctx context.Context, userID string, txs []model.Transaction) ([]model.CandidateSubscription, error)
}

// ServiceConfig は銀行連携サービスの設定。
type ServiceConfig struct {
	LookbackDays int // 取引取得期間（日）
}

// LinkStart は連携開始の結果。
type LinkStart struct {
	Provider         string
	AuthorizationURL string
	ExpiresAt        time.Time
}

// LinkResult は連携完了の結果。
type LinkResult struct {
	Provider     string
	Accounts     []model.Account
	Transactions []model.Transaction
	Candidates   []model.CandidateSubscription
}

// ProviderInfo は対応プロバイダーの能力情報。
type ProviderInfo struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Countries   []string `json:"countries"`
	Implemented bool     `json:"implemented"`
	Default     bool     `json:"default"`
}

// Service は銀行連携フロー（開始・コールバック・取引取得）を提供する。
type Service struct {
	router       *Router
	sessions     LinkSessionStore
	transactions TransactionStore
	detector     Detector
	signer       *StateSigner
	config       ServiceConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewService はServiceを生成する。transactionsとdetectorはnilでもよい。
func NewService(
	router *Router,
	signer *StateSigner,
	sessions LinkSessionStore,
	transactions TransactionStore,
	detector Detector,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if config.LookbackDays <= 0 {
		config.LookbackDays = 365
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		router:       router,
		sessions:     sessions,
		transactions: transactions,
		detector:     detector,
		signer:       signer,
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// StartLink は国コードと希望プロバイダーから連携を開始し、認可URLを返す。
// 外部呼び出しの前に国の対応可否を判定する。
func (s *Service) StartLink(ctx context.Context, userID, countryCode, preferred string) (*LinkStart, error) {
	country := model.NormalizeCountryCode(countryCode)

	p, err := s.router.Select(country, preferred)
	if err != nil {
		return nil, err
	}
	if !p.Implemented() {
		return nil, &ProviderError{Provider: p.Key(), Op: "link", Err: ErrProviderNotImplemented}
	}

	req, err := p.CreateLinkRequest(ctx, userID, country)
	if err != nil {
		return nil, &ProviderError{Provider: p.Key(), Op: "link", Err: err}
	}

	session := &model.LinkSession{
		StateHash:   HashState(req.State),
		UserID:      userID,
		Provider:    p.Key(),
		CountryCode: country,
		CreatedAt:   s.now(),
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save link session: %w", err)
	}

	s.logger.Info("bank link started",
		slog.String("user_id", userID),
		slog.String("provider", p.Key()),
		slog.String("country", country),
	)

	return &LinkStart{
		Provider:         p.Key(),
		AuthorizationURL: req.AuthorizationURL,
		ExpiresAt:        req.ExpiresAt,
	}, nil
}

// CompleteLink はOAuthコールバックを処理する。
// stateの署名検証後、呼び出し元のログインセッションのユーザーが所有する連携セッションだけを
// 1回限り消費してから認可コードを交換する。stateを入手した別ユーザーは他人の連携を消せない。
// 口座と取引を取得して保存し、検出器に渡す。
func (s *Service) CompleteLink(ctx context.Context, sessionUserID, state, code string) (*LinkResult, error) {
	hint, err := s.signer.Parse(state)
	if err != nil {
		return nil, err
	}

	if hint.UserID != sessionUserID {
		s.logger.Warn("bank link callback user mismatch",
			slog.String("session_user_id", sessionUserID),
			slog.String("provider", hint.Provider),
		)
		return nil, ErrLinkUserMismatch
	}

	session, err := s.sessions.Consume(ctx, HashState(state), sessionUserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to consume link session: %w", err)
	}
	if session == nil {
		return nil, ErrLinkSessionExpired
	}

	p, ok := s.router.Lookup(session.Provider)
	if !ok || p.Key() != hint.Provider {
		return nil, ErrInvalidState
	}

	cred, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, &ProviderError{Provider: p.Key(), Op: "exchange", Err: err}
	}

	accounts, err := p.FetchAccounts(ctx, cred)
	if err != nil {
		return nil, &ProviderError{Provider: p.Key(), Op: "accounts", Err: err}
	}

	accountIDs := lo.Map(accounts, func(a model.Account, _ int) string { return a.ID })
	txs, err := p.FetchTransactions(ctx, cred, accountIDs, model.NewDateRange(s.now(), s.config.LookbackDays))
	if err != nil {
		return nil, &ProviderError{Provider: p.Key(), Op: "transactions", Err: err}
	}

	if s.transactions != nil && len(txs) > 0 {
		if _, err := s.transactions.UpsertTransactions(ctx, session.UserID, txs); err != nil {
			return nil, fmt.Errorf("failed to save transactions: %w", err)
		}
	}

	result := &LinkResult{
		Provider:     p.Key(),
		Accounts:     accounts,
		Transactions: txs,
	}

	if s.detector != nil {
		candidates, err := s.detector.Detect(ctx, session.UserID, txs)
		if err != nil {
			s.logger.Warn("subscription detection failed",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			result.Candidates = candidates
		}
	}

	s.logger.Info("bank link completed",
		slog.String("user_id", session.UserID),
		slog.String("provider", p.Key()),
		slog.Int("accounts", len(accounts)),
		slog.Int("transactions", len(txs)),
	)

	return result, nil
}

// AbortLink はプロバイダーがエラーでリダイレクトしてきた場合に連携セッションを破棄する。
// stateが不正な場合や、sessionUserIDがstateの発行先と異なる場合は何もしない。
func (s *Service) AbortLink(ctx context.Context, sessionUserID, state string) {
	hint, err := s.signer.Parse(state)
	if err != nil || hint.UserID != sessionUserID {
		return
	}
	if _, err := s.sessions.Consume(ctx, HashState(state), sessionUserID, s.now()); err != nil {
		s.logger.Warn("failed to discard link session", slog.String("error", err.Error()))
	}
}

// ListProviders は国コードに対応するプロバイダーの能力情報を優先順で返す。
func (s *Service) ListProviders(countryCode string) ([]ProviderInfo, error) {
	available := s.router.ListAvailable(countryCode)
	if len(available) == 0 {
		return nil, ErrUnsupportedCountry
	}
	return lo.Map(available, func(p Provider, i int) ProviderInfo {
		return ProviderInfo{
			Key:         p.Key(),
			Name:        p.DisplayName(),
			Countries:   p.SupportedCountries(),
			Implemented: p.Implemented(),
			Default:     i == 0,
		}
	}), nil
}

// ListInstitutions は国コードの金融機関カタログを返す。
// providerが指定された場合はそのプロバイダーのカタログのみを返す。
func (s *Service) ListInstitutions(countryCode, provider string) ([]model.Institution, error) {
	country := model.NormalizeCountryCode(countryCode)

	if provider != "" {
		p, ok := s.router.Lookup(provider)
		if !ok || !Supports(p, country) {
			return nil, ErrUnsupportedCountry
		}
		return p.ListInstitutions(country), nil
	}

	available := s.router.ListAvailable(country)
	if len(available) == 0 {
		return nil, ErrUnsupportedCountry
	}
	return lo.FlatMap(available, func(p Provider, _ int) []model.Institution {
		return p.ListInstitutions(country)
	}), nil
}
