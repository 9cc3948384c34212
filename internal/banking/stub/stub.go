// Package stub は連携処理が未実装のプロバイダーを提供する。
// 対応国と金融機関カタログのみを公開し、ネットワーク操作はすべて
// banking.ErrProviderNotImplementedで失敗する。
package stub

import (
	"context"

	"github.com/samber/lo"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/model"
)

// Provider は未実装プロバイダーのプレースホルダー。
type Provider struct {
	key          string
	name         string
	countries    []string
	institutions map[string][]model.Institution
}

// New はStub Providerを生成する。institutionsは国コードをキーとするカタログで、nilでもよい。
func New(key, name string, countries []string, institutions map[string][]model.Institution) *Provider {
	return &Provider{
		key:          key,
		name:         name,
		countries:    lo.Map(countries, func(c string, _ int) string { return model.NormalizeCountryCode(c) }),
		institutions: institutions,
	}
}

// Nordigen は北欧・EU圏向けのGoCardless Bank Account Data (旧Nordigen) のプレースホルダー。
func Nordigen() *Provider {
	return New("nordigen", "GoCardless (Nordigen)", []string{
		"SE", "NO", "DK", "FI", "EE", "LV", "LT", "DE", "NL", "FR",
		"ES", "IT", "IE", "BE", "AT", "PT", "PL", "CZ", "SK", "HU",
	}, map[string][]model.Institution{
		"SE": {
			{ID: "SWEDBANK_SWEDSESS", Name: "Swedbank"},
			{ID: "SEB_ESSESESS", Name: "SEB"},
			{ID: "HANDELSBANKEN_HANDSESS", Name: "Handelsbanken"},
		},
		"NO": {
			{ID: "DNB_DNBANOKK", Name: "DNB"},
		},
		"DK": {
			{ID: "DANSKEBANK_DABADKKK", Name: "Danske Bank"},
		},
	})
}

// Plaid は北米向けのPlaidのプレースホルダー。
func Plaid() *Provider {
	return New("plaid", "Plaid", []string{"US", "CA"}, nil)
}

func (p *Provider) Key() string                  { return p.key }
func (p *Provider) DisplayName() string          { return p.name }
func (p *Provider) SupportedCountries() []string { return p.countries }
func (p *Provider) Implemented() bool            { return false }

func (p *Provider) CreateLinkRequest(context.Context, string, string) (*banking.LinkRequest, error) {
	return nil, banking.ErrProviderNotImplemented
}

func (p *Provider) ExchangeCode(context.Context, string) (*banking.Credential, error) {
	return nil, banking.ErrProviderNotImplemented
}

func (p *Provider) FetchAccounts(context.Context, *banking.Credential) ([]model.Account, error) {
	return nil, banking.ErrProviderNotImplemented
}

func (p *Provider) FetchTransactions(context.Context, *banking.Credential, []string, model.DateRange) ([]model.Transaction, error) {
	return nil, banking.ErrProviderNotImplemented
}

// ListInstitutions はカタログを返す。登録が無い国は空のスライスを返す。
func (p *Provider) ListInstitutions(countryCode string) []model.Institution {
	country := model.NormalizeCountryCode(countryCode)
	return lo.Map(p.institutions[country], func(inst model.Institution, _ int) model.Institution {
		inst.CountryCode = country
		inst.ProviderID = p.key
		return inst
	})
}

var _ banking.Provider = (*Provider)(nil)
