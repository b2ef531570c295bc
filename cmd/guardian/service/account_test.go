package service

import (
	"testing"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.accounts.Register(f.ctx, models.RegisterRequest{UserID: "A", DisplayName: "Taro", Pin: "1234"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, first.Role)
	assert.Equal(t, "E", first.Rank)

	again, err := f.accounts.Register(f.ctx, models.RegisterRequest{UserID: "A", DisplayName: "Someone else"})
	require.NoError(t, err)
	assert.Equal(t, "Taro", again.DisplayName)

	all, err := f.accounts.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.accounts.Register(f.ctx, models.RegisterRequest{UserID: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginChecksPin(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Register(f.ctx, models.RegisterRequest{UserID: "A", DisplayName: "Taro", Pin: "1234"})
	require.NoError(t, err)
	f.register(t, "B", "Hana")

	acc, err := f.accounts.Login(f.ctx, "A", "1234")
	require.NoError(t, err)
	assert.Equal(t, "A", acc.UserID)

	_, err = f.accounts.Login(f.ctx, "A", "0000")
	assert.ErrorIs(t, err, ErrInvalidPin)
	_, err = f.accounts.Login(f.ctx, "B", "")
	assert.ErrorIs(t, err, ErrInvalidPin, "accounts without a pin cannot log in")
	_, err = f.accounts.Login(f.ctx, "ghost", "1234")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGrantAndAdjustRequireAdmin(t *testing.T) {
	f := newFixture(t)
	f.admin(t, "mom", "Mom")
	f.register(t, "A", "Taro")

	balance, err := f.accounts.Grant(f.ctx, "mom", "A", 150, "birthday")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	_, err = f.accounts.Grant(f.ctx, "A", "A", 1000, "cheat")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.accounts.Grant(f.ctx, "mom", "A", 0, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	balance, err = f.accounts.AdjustTo(f.ctx, "mom", "A", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	balance, err = f.accounts.AdjustTo(f.ctx, "mom", "A", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	history, err := f.ledger.History(f.ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 2, "a no-op adjustment writes nothing")
	assert.Equal(t, "ADMIN_ADJUST", history[0].Reference)
	assert.Equal(t, int64(-50), history[0].Amount)
	assert.Equal(t, "Mom", history[0].Actor)
	assert.Equal(t, "ADMIN_GRANT:birthday", history[1].Reference)
}

func TestResetSelfOnlyForAdmins(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	f.admin(t, "mom", "Mom")

	assert.ErrorIs(t, f.accounts.ResetSelf(f.ctx, "A"), ErrForbidden)
	require.NoError(t, f.accounts.ResetSelf(f.ctx, "mom"))

	_, err := f.accounts.Get(f.ctx, "mom")
	assert.ErrorIs(t, err, ErrNotFound)
	acc, err := f.accounts.Get(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, acc.Row)

	ok, err := f.accounts.IsAdmin(f.ctx, "mom")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleChanges(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")

	require.NoError(t, f.accounts.SetRole(f.ctx, "A", models.RoleAdmin))
	assert.Equal(t, []string{"A"}, f.accounts.AdminIDs(f.ctx))
	assert.ErrorIs(t, f.accounts.SetRole(f.ctx, "A", "ROOT"), ErrInvalidInput)

	require.NoError(t, f.accounts.ResetRole(f.ctx, "A"))
	assert.Empty(t, f.accounts.AdminIDs(f.ctx))
	assert.Equal(t, models.RoleUser, f.cell(t, sheet.Users, 2, "role"))
}

func TestRankingAndInventory(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	f.register(t, "B", "Hana")

	total, rank, err := f.accounts.AddStudyMinutes(f.ctx, "B", 130)
	require.NoError(t, err)
	assert.Equal(t, int64(130), total)
	assert.Equal(t, "D", rank)
	_, _, err = f.accounts.AddStudyMinutes(f.ctx, "A", 30)
	require.NoError(t, err)

	ranking, err := f.accounts.Ranking(f.ctx)
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, "B", ranking[0].UserID)
	assert.Equal(t, 1, ranking[0].Position)
	assert.Equal(t, "D", ranking[0].Rank)
	assert.Equal(t, "A", ranking[1].UserID)

	require.NoError(t, f.accounts.AddInventoryItem(f.ctx, "A", "ticket", 2))
	require.NoError(t, f.accounts.AddInventoryItem(f.ctx, "A", "ticket", -2))
	require.NoError(t, f.accounts.AddInventoryItem(f.ctx, "A", "star", 1))
	inv, err := f.accounts.Inventory(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"star": 1}, inv)
	assert.ErrorIs(t, f.accounts.AddInventoryItem(f.ctx, "A", "", 1), ErrInvalidInput)
}
