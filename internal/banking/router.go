package banking

import (
	"github.com/samber/lo"

	"github.com/hitoshi/subtrack/internal/model"
)

// Router は国コードと任意の希望プロバイダーから利用するプロバイダーを選択する。
// プロバイダーは優先順に保持し、先頭ほど既定として優先される。
// 特定プロバイダーを特別扱いしないため、追加はリストへの追記のみで済む。
type Router struct {
	providers []Provider
}

// NewRouter は優先順に並んだプロバイダーからRouterを生成する。
func NewRouter(providers ...Provider) *Router {
	return &Router{providers: providers}
}

// Select は国コードに対応するプロバイダーを返す。
// preferredが指定され、そのプロバイダーが国に対応していればそれを返す。
// それ以外は対応プロバイダーのうち最も優先度の高いものを返す。
// 対応プロバイダーが1つもない場合はErrUnsupportedCountryを返す。
func (r *Router) Select(countryCode, preferred string) (Provider, error) {
	if preferred != "" {
		if p, ok := r.Lookup(preferred); ok && Supports(p, countryCode) {
			return p, nil
		}
	}

	available := r.ListAvailable(countryCode)
	if len(available) == 0 {
		return nil, ErrUnsupportedCountry
	}
	return available[0], nil
}

// ListAvailable は国コードに対応するプロバイダーを優先順で返す。
func (r *Router) ListAvailable(countryCode string) []Provider {
	return lo.Filter(r.providers, func(p Provider, _ int) bool {
		return Supports(p, countryCode)
	})
}

// IsSupported は国コードに対応するプロバイダーが存在するかを返す。
func (r *Router) IsSupported(countryCode string) bool {
	return lo.ContainsBy(r.providers, func(p Provider) bool {
		return Supports(p, countryCode)
	})
}

// Lookup はキーでプロバイダーを検索する。
func (r *Router) Lookup(key string) (Provider, bool) {
	return lo.Find(r.providers, func(p Provider) bool {
		return p.Key() == key
	})
}

// Countries は全プロバイダーの対応国を重複なく返す。
func (r *Router) Countries() []string {
	all := lo.FlatMap(r.providers, func(p Provider, _ int) []string {
		return lo.Map(p.SupportedCountries(), func(c string, _ int) string {
			return model.NormalizeCountryCode(c)
		})
	})
	return lo.Uniq(all)
}
