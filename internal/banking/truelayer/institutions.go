package truelayer

import (
	"github.com/samber/lo"

	"github.com/hitoshi/subtrack/internal/model"
)

// catalog は国ごとの主要金融機関。認可画面の前に利用者へ提示する参照データ。
// IDはTrueLayerのプロバイダーIDに合わせている。
var catalog = map[string][]model.Institution{
	"GB": {
		{ID: "ob-barclays", Name: "Barclays"},
		{ID: "ob-hsbc", Name: "HSBC"},
		{ID: "ob-lloyds", Name: "Lloyds"},
		{ID: "ob-natwest", Name: "NatWest"},
		{ID: "ob-santander", Name: "Santander"},
		{ID: "ob-monzo", Name: "Monzo"},
		{ID: "ob-starling", Name: "Starling"},
		{ID: "ob-revolut", Name: "Revolut"},
		{ID: "ob-nationwide", Name: "Nationwide"},
	},
	"IE": {
		{ID: "ob-aib", Name: "AIB"},
		{ID: "ob-boi", Name: "Bank of Ireland"},
		{ID: "ob-ptsb", Name: "PTSB"},
	},
	"FR": {
		{ID: "fr-stet-bnp", Name: "BNP Paribas"},
		{ID: "fr-stet-societegenerale", Name: "Société Générale"},
		{ID: "fr-stet-creditagricole", Name: "Crédit Agricole"},
	},
	"ES": {
		{ID: "es-xs2a-santander", Name: "Banco Santander"},
		{ID: "es-xs2a-bbva", Name: "BBVA"},
		{ID: "es-xs2a-caixabank", Name: "CaixaBank"},
	},
	"IT": {
		{ID: "it-xs2a-intesa", Name: "Intesa Sanpaolo"},
		{ID: "it-xs2a-unicredit", Name: "UniCredit"},
	},
	"DE": {
		{ID: "de-xs2a-deutschebank", Name: "Deutsche Bank"},
		{ID: "de-xs2a-commerzbank", Name: "Commerzbank"},
		{ID: "de-xs2a-n26", Name: "N26"},
	},
	"NL": {
		{ID: "nl-xs2a-ing", Name: "ING"},
		{ID: "nl-xs2a-abnamro", Name: "ABN AMRO"},
		{ID: "nl-xs2a-rabobank", Name: "Rabobank"},
	},
	"BE": {
		{ID: "be-xs2a-kbc", Name: "KBC"},
		{ID: "be-xs2a-belfius", Name: "Belfius"},
	},
	"AT": {
		{ID: "at-xs2a-erste", Name: "Erste Bank"},
		{ID: "at-xs2a-raiffeisen", Name: "Raiffeisen"},
	},
	"PT": {
		{ID: "pt-xs2a-cgd", Name: "Caixa Geral de Depósitos"},
		{ID: "pt-xs2a-millennium", Name: "Millennium bcp"},
	},
	"PL": {
		{ID: "pl-xs2a-pkobp", Name: "PKO Bank Polski"},
		{ID: "pl-xs2a-mbank", Name: "mBank"},
	},
	"LT": {
		{ID: "lt-xs2a-swedbank", Name: "Swedbank"},
		{ID: "lt-xs2a-seb", Name: "SEB"},
	},
	"FI": {
		{ID: "fi-xs2a-nordea", Name: "Nordea"},
		{ID: "fi-xs2a-op", Name: "OP Financial Group"},
	},
}

// ListInstitutions は国の金融機関カタログを返す。未対応国は空のスライスを返す。
func (a *Adapter) ListInstitutions(countryCode string) []model.Institution {
	country := model.NormalizeCountryCode(countryCode)
	return lo.Map(catalog[country], func(inst model.Institution, _ int) model.Institution {
		inst.CountryCode = country
		inst.ProviderID = ProviderKey
		return inst
	})
}
