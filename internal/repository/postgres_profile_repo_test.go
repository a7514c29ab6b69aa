package repository

import (
	"context"
	"testing"

	"github.com/hitoshi/clinicclaim/internal/model"
)

// PostgresProfileRepoはProfileRepositoryインターフェースを満たすことを検証
func TestPostgresProfileRepo_ImplementsInterface(t *testing.T) {
	var _ ProfileRepository = (*PostgresProfileRepo)(nil)
}

// 同じアカウントで2回Upsertしても行は1件で、内容が更新されること
func TestPostgresProfileRepo_Upsert_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	accountID := insertAccount(t, db, "owner@example.com")

	first := &model.Profile{
		AccountID:    accountID,
		Role:         model.ProfileRoleClinic,
		FullName:     "Hanako Sato",
		RoleInClinic: "Director",
	}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}

	second := &model.Profile{
		AccountID:    accountID,
		Role:         model.ProfileRoleClinic,
		FullName:     "Hanako Suzuki",
		RoleInClinic: "Director",
	}
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("profile ID changed: %s -> %s", first.ID, second.ID)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM profiles WHERE account_id = $1`, accountID).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("profile rows = %d, want 1", count)
	}

	got, err := repo.FindByAccountID(ctx, accountID)
	if err != nil {
		t.Fatalf("FindByAccountID failed: %v", err)
	}
	if got == nil || got.FullName != "Hanako Suzuki" {
		t.Errorf("FindByAccountID = %+v", got)
	}
}
