package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// イベント種別。
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSuccess = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventCustomerCreated       = "customer.created"
	EventCustomerUpdated       = "customer.updated"
)

// Event は検証済みのWebhookイベント。
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`

	Raw json.RawMessage `json:"-"`
}

// OccurredAt はイベント発生時刻を返す。createdが無い場合はfallbackを返す。
func (e *Event) OccurredAt(fallback time.Time) time.Time {
	if e.Created <= 0 {
		return fallback
	}
	return time.Unix(e.Created, 0).UTC()
}

// decodeObject はdata.objectを指定の型に解析する。
func (e *Event) decodeObject(out any) error {
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("%w: missing data.object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(e.Data.Object, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

type customerDetails struct {
	Email string `json:"email"`
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Customer          string            `json:"customer"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *customerDetails  `json:"customer_details"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func (s *checkoutSession) email() string {
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	if s.CustomerDetails != nil {
		return s.CustomerDetails.Email
	}
	return ""
}

type subscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
}

type invoiceLine struct {
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

type invoice struct {
	ID                  string            `json:"id"`
	Customer            string            `json:"customer"`
	CustomerEmail       string            `json:"customer_email"`
	AmountPaid          int64             `json:"amount_paid"`
	AmountDue           int64             `json:"amount_due"`
	Currency            string            `json:"currency"`
	Subscription        string            `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

// userID はメタデータに埋め込まれたユーザーIDを返す。
func (i *invoice) userID() string {
	if id := i.Metadata["user_id"]; id != "" {
		return id
	}
	if i.SubscriptionDetails != nil {
		return i.SubscriptionDetails.Metadata["user_id"]
	}
	return ""
}

// periodEnd は明細の請求期間終端のうち最も遅いものを返す。
func (i *invoice) periodEnd() *time.Time {
	var latest int64
	for _, line := range i.Lines.Data {
		if line.Period.End > latest {
			latest = line.Period.End
		}
	}
	if latest == 0 {
		return nil
	}
	t := time.Unix(latest, 0).UTC()
	return &t
}

type customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
