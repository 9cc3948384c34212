package truelayer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/subtrack/internal/banking"
	"github.com/hitoshi/subtrack/internal/model"
)

// defaultFraction は通貨が不明な場合の補助単位の桁数。
const defaultFraction = 2

type accountsResponse struct {
	Results []tlAccount `json:"results"`
}

type tlAccount struct {
	AccountID   string `json:"account_id"`
	AccountType string `json:"account_type"`
	DisplayName string `json:"display_name"`
	Currency    string `json:"currency"`
}

type transactionsResponse struct {
	Results []tlTransaction `json:"results"`
}

type tlTransaction struct {
	TransactionID  string          `json:"transaction_id"`
	Timestamp      string          `json:"timestamp"`
	Description    string          `json:"description"`
	Type           string          `json:"transaction_type"`
	Category       string          `json:"transaction_category"`
	Classification []string        `json:"transaction_classification"`
	MerchantName   string          `json:"merchant_name"`
	Amount         json.Number     `json:"amount"`
	Currency       string          `json:"currency"`
	RunningBalance *tlRunningValue `json:"running_balance"`
}

type tlRunningValue struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// accountTypes はTrueLayerの口座種別から正規化種別への対応表。
var accountTypes = map[string]model.AccountType{
	"TRANSACTION":          model.AccountTypeChecking,
	"BUSINESS_TRANSACTION": model.AccountTypeChecking,
	"SAVINGS":              model.AccountTypeSavings,
	"BUSINESS_SAVINGS":     model.AccountTypeSavings,
	"CREDIT_CARD":          model.AccountTypeCredit,
	"INVESTMENT":           model.AccountTypeInvestment,
}

// FetchAccounts は口座一覧を取得して正規化する。
func (a *Adapter) FetchAccounts(ctx context.Context, cred *banking.Credential) (accounts []model.Account, err error) {
	start := time.Now()
	defer func() { a.observe("accounts", start, err) }()

	var resp accountsResponse
	if err := a.getJSON(ctx, cred, "/accounts", nil, &resp); err != nil {
		return nil, err
	}

	return lo.Map(resp.Results, func(acc tlAccount, _ int) model.Account {
		return model.Account{
			ID:          acc.AccountID,
			DisplayName: a.sanitizer.Sanitize(acc.DisplayName),
			Type:        mapAccountType(acc.AccountType),
			Currency:    strings.ToUpper(acc.Currency),
			ProviderID:  ProviderKey,
		}
	}), nil
}

func mapAccountType(raw string) model.AccountType {
	if t, ok := accountTypes[strings.ToUpper(raw)]; ok {
		return t
	}
	return model.AccountTypeOther
}

// FetchTransactions は口座ごとに取引を取得し、日付降順で返す。
// 取得に失敗した口座はログに記録してスキップする。
func (a *Adapter) FetchTransactions(ctx context.Context, cred *banking.Credential, accountIDs []string, dateRange model.DateRange) ([]model.Transaction, error) {
	query := url.Values{}
	query.Set("from", dateRange.From.Format(time.DateOnly))
	query.Set("to", dateRange.To.Format(time.DateOnly))

	var all []model.Transaction
	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		txs, err := a.fetchAccountTransactions(ctx, cred, accountID, query)
		if err != nil {
			a.logger.Warn("口座の取引取得に失敗したためスキップします",
				slog.String("provider", ProviderKey),
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
			continue
		}
		all = append(all, txs...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Date.After(all[j].Date)
	})
	return all, nil
}

func (a *Adapter) fetchAccountTransactions(ctx context.Context, cred *banking.Credential, accountID string, query url.Values) (txs []model.Transaction, err error) {
	start := time.Now()
	defer func() { a.observe("transactions", start, err) }()

	var resp transactionsResponse
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	if err := a.getJSON(ctx, cred, path, query, &resp); err != nil {
		return nil, err
	}

	txs = make([]model.Transaction, 0, len(resp.Results))
	for _, raw := range resp.Results {
		tx, err := a.normalizeTransaction(accountID, raw)
		if err != nil {
			a.logger.Warn("取引の正規化に失敗したためスキップします",
				slog.String("account_id", accountID),
				slog.String("transaction_id", raw.TransactionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (a *Adapter) normalizeTransaction(accountID string, raw tlTransaction) (model.Transaction, error) {
	magnitude, err := toMinorUnits(raw.Amount, raw.Currency)
	if err != nil {
		return model.Transaction{}, err
	}
	if magnitude < 0 {
		magnitude = -magnitude
	}

	var amount int64
	switch strings.ToUpper(raw.Type) {
	case "DEBIT":
		amount = -magnitude
	case "CREDIT":
		amount = magnitude
	default:
		// 種別が無い場合は金額の符号に従う
		d, _ := decimal.NewFromString(raw.Amount.String())
		amount = magnitude
		if d.IsNegative() {
			amount = -magnitude
		}
	}

	date, err := parseDate(raw.Timestamp)
	if err != nil {
		return model.Transaction{}, err
	}

	tx := model.Transaction{
		ID:               raw.TransactionID,
		AccountID:        accountID,
		AmountMinorUnits: amount,
		Currency:         strings.ToUpper(raw.Currency),
		Date:             date,
		Description:      a.sanitizer.Sanitize(raw.Description),
		Categories:       categories(raw),
		ProviderID:       ProviderKey,
	}
	if name := a.sanitizer.Sanitize(raw.MerchantName); name != "" {
		tx.MerchantName = &name
	}
	if raw.RunningBalance != nil && raw.RunningBalance.Amount != "" {
		currency := raw.RunningBalance.Currency
		if currency == "" {
			currency = raw.Currency
		}
		if balance, err := toMinorUnits(raw.RunningBalance.Amount, currency); err == nil {
			tx.RunningBalance = &balance
		}
	}
	return tx, nil
}

// toMinorUnits は10進数の金額を通貨の補助単位の整数に変換する。
// 浮動小数点を経由せずに丸めるため、12.50は常に1250になる。
func toMinorUnits(amount json.Number, currency string) (int64, error) {
	d, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, fmt.Errorf("金額のパースに失敗しました: %q", amount.String())
	}
	return d.Shift(int32(fractionOf(currency))).Round(0).IntPart(), nil
}

func fractionOf(currency string) int {
	if c := money.GetCurrency(strings.ToUpper(currency)); c != nil {
		return c.Fraction
	}
	return defaultFraction
}

func categories(raw tlTransaction) []string {
	out := make([]string, 0, 1+len(raw.Classification))
	if raw.Category != "" {
		out = append(out, raw.Category)
	}
	for _, c := range raw.Classification {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseDate はタイムスタンプを日付単位に切り捨てる。
// タイムゾーン付きの場合は現地の日付を採用する。
func parseDate(ts string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("日付のパースに失敗しました: %q", ts)
}
