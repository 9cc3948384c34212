package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/subtrack/internal/entitlement"
	"github.com/hitoshi/subtrack/internal/model"
)

// memoryEvents はEventStoreのテスト実装。
type memoryEvents struct {
	events map[string]*model.WebhookEvent
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{events: make(map[string]*model.WebhookEvent)}
}

func (m *memoryEvents) Record(_ context.Context, ev *model.WebhookEvent) (bool, error) {
	if existing, ok := m.events[ev.ID]; ok {
		return existing.ProcessedAt != nil, nil
	}
	cp := *ev
	m.events[ev.ID] = &cp
	return false, nil
}

func (m *memoryEvents) MarkProcessed(_ context.Context, id string, at time.Time) error {
	if ev, ok := m.events[id]; ok {
		ev.ProcessedAt = &at
	}
	return nil
}

// memoryUsers はUserLookupとentitlement.UserStoreを兼ねるテスト実装。
// deleteBeforeWriteを立てると、検索後・書き込み前にユーザーが削除された状況を再現する。
type memoryUsers struct {
	users             map[string]*model.User
	deleteBeforeWrite bool
}

func newMemoryUsers(users ...*model.User) *memoryUsers {
	m := &memoryUsers{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memoryUsers) FindByCustomerID(_ context.Context, customerID string) (*model.User, error) {
	for _, u := range m.users {
		if u.PaymentCustomerID != nil && *u.PaymentCustomerID == customerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) UpdateEntitlement(_ context.Context, userID string, state model.EntitlementState) error {
	if m.deleteBeforeWrite {
		delete(m.users, userID)
	}
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: %s", entitlement.ErrUserNotFound, userID)
	}
	state.CustomerID = u.PaymentCustomerID
	u.Entitlement = state
	return nil
}

func (m *memoryUsers) LinkCustomerID(_ context.Context, userID, customerID string) (bool, error) {
	u := m.users[userID]
	if u.PaymentCustomerID != nil {
		return false, nil
	}
	u.PaymentCustomerID = &customerID
	return true, nil
}

// memoryLedger はentitlement.LedgerStoreのテスト実装。
type memoryLedger struct {
	rows map[string]model.PaymentHistoryRecord
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{rows: make(map[string]model.PaymentHistoryRecord)}
}

func (m *memoryLedger) Upsert(_ context.Context, r *model.PaymentHistoryRecord) error {
	if existing, ok := m.rows[r.ExternalEventRef]; ok {
		existing.Status = r.Status
		existing.AmountMinorUnits = r.AmountMinorUnits
		m.rows[r.ExternalEventRef] = existing
		return nil
	}
	m.rows[r.ExternalEventRef] = *r
	return nil
}

// memoryCheckouts はCheckoutStoreのテスト実装。
type memoryCheckouts struct {
	status map[string]model.CheckoutStatus
}

func newMemoryCheckouts() *memoryCheckouts {
	return &memoryCheckouts{status: make(map[string]model.CheckoutStatus)}
}

func (m *memoryCheckouts) MarkCompleted(_ context.Context, id, _ string, _ model.PlanType, _ time.Time) error {
	m.status[id] = model.CheckoutCompleted
	return nil
}

func (m *memoryCheckouts) MarkExpired(_ context.Context, id string, _ time.Time) (bool, error) {
	if m.status[id] != model.CheckoutOpen {
		return false, nil
	}
	m.status[id] = model.CheckoutExpired
	return true, nil
}
