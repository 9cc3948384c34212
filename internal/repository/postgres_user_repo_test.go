package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hitoshi/subtrack/internal/entitlement"
	"github.com/hitoshi/subtrack/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// UUID形式でないIDはDBに問い合わせず該当なしとして扱う
func TestPostgresUserRepo_FindByID_NonUUID(t *testing.T) {
	repo := NewPostgresUserRepo(nil)

	for _, id := range []string{"", "user-1", "not-a-uuid", "12345"} {
		user, err := repo.FindByID(context.Background(), id)
		if err != nil {
			t.Errorf("FindByID(%q) error = %v", id, err)
		}
		if user != nil {
			t.Errorf("FindByID(%q) = %+v, want nil", id, user)
		}
	}
}

func TestPostgresUserRepo_Integration(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	user := createTestUser(t, db, "Alice@Example.com")
	if user.Entitlement.PlanType != "none" || user.Entitlement.Status != "none" {
		t.Errorf("defaults = %+v, want none/none", user.Entitlement)
	}

	t.Run("FindByEmailは大文字小文字を区別しない", func(t *testing.T) {
		got, err := repo.FindByEmail(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("FindByEmail error: %v", err)
		}
		if got == nil || got.ID != user.ID {
			t.Fatalf("FindByEmail = %+v, want user %s", got, user.ID)
		}
	})

	t.Run("LinkCustomerIDは最初の書き込みのみ反映する", func(t *testing.T) {
		linked, err := repo.LinkCustomerID(ctx, user.ID, "cus_first")
		if err != nil || !linked {
			t.Fatalf("first LinkCustomerID = %v, %v; want true, nil", linked, err)
		}
		linked, err = repo.LinkCustomerID(ctx, user.ID, "cus_second")
		if err != nil || linked {
			t.Fatalf("second LinkCustomerID = %v, %v; want false, nil", linked, err)
		}

		got, err := repo.FindByCustomerID(ctx, "cus_first")
		if err != nil {
			t.Fatalf("FindByCustomerID error: %v", err)
		}
		if got == nil || got.ID != user.ID {
			t.Fatalf("FindByCustomerID = %+v, want user %s", got, user.ID)
		}
		if none, _ := repo.FindByCustomerID(ctx, "cus_second"); none != nil {
			t.Errorf("cus_second should not be linked, got %+v", none)
		}
	})

	t.Run("存在しないユーザーの契約更新はErrUserNotFound", func(t *testing.T) {
		err := repo.UpdateEntitlement(ctx, uuid.NewString(), model.EntitlementState{
			PlanType: model.PlanMonthly,
			Status:   model.StatusActive,
		})
		if !errors.Is(err, entitlement.ErrUserNotFound) {
			t.Errorf("err = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("同じ顧客IDを別ユーザーに紐付けられない", func(t *testing.T) {
		other := createTestUser(t, db, "bob@example.com")
		linked, err := repo.LinkCustomerID(ctx, other.ID, "cus_first")
		if err != nil {
			t.Fatalf("LinkCustomerID error: %v", err)
		}
		if linked {
			t.Error("customer ID already owned by another user should not be linked")
		}
	})
}
