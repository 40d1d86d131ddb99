package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/storage/memstorage"
)

func newTestService(store *memstorage.Store) *Service {
	cfg := &config.AuthConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
	}
	return NewService(store, store.Keys(), cfg, zap.NewNop())
}

func TestRegisterAndLogin(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "  Trader@Example.COM ", "s3cret-password")
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", acc.Email)
	assert.NotEqual(t, "s3cret-password", acc.PasswordHash)

	token, err := svc.Login(ctx, "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	accountID, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, accountID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, "trader@example.com", "password-one")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "TRADER@example.com", "password-two")
	assert.ErrorIs(t, err, ierr.ErrEmailTaken)
}

func TestLogin_BadCredentials(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, "trader@example.com", "correct-password")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "trader@example.com", "wrong-password")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "correct-password")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)
}

func TestValidateToken_Invalid(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)

	_, err := svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)

	other := NewService(store, store.Keys(), &config.AuthConfig{
		JWTSecret:  "a-different-secret",
		SessionTTL: time.Hour,
	}, zap.NewNop())

	_, err = svc.Register(context.Background(), "trader@example.com", "s3cret-password")
	require.NoError(t, err)
	token, err := svc.Login(context.Background(), "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	issuedAt := time.Now().Add(-48 * time.Hour)
	svc.now = func() time.Time { return issuedAt }
	token, err := svc.Login(ctx, "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}

func TestCreateAndListKeys(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	rawKey, key, err := svc.CreateKey(ctx, acc.ID, "Staging")
	require.NoError(t, err)
	assert.Contains(t, rawKey, apikey.KeyPrefix)
	assert.Equal(t, "Staging", key.Label)
	assert.Equal(t, apikey.StatusActive, key.Status)

	keys, err := svc.ListKeys(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0].KeyHash, rawKey)
}

// Rotation must leave exactly one active key: the replacement works, the
// rotated-out secret does not.
func TestRotateKey(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	oldRaw, oldKey, err := svc.CreateKey(ctx, acc.ID, "Production")
	require.NoError(t, err)

	newRaw, newKey, err := svc.RotateKey(ctx, acc.ID, oldKey.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldRaw, newRaw)
	assert.Equal(t, "Production", newKey.Label)
	assert.Equal(t, 1, store.CountActiveKeys(acc.ID))

	rotated, err := store.Keys().FindByID(ctx, oldKey.ID)
	require.NoError(t, err)
	assert.Equal(t, apikey.StatusRevoked, rotated.Status)
}

func TestRotateKey_WrongAccount(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	owner, err := svc.Register(ctx, "owner@example.com", "s3cret-password")
	require.NoError(t, err)
	intruder, err := svc.Register(ctx, "intruder@example.com", "s3cret-password")
	require.NoError(t, err)

	_, key, err := svc.CreateKey(ctx, owner.ID, "Production")
	require.NoError(t, err)

	_, _, err = svc.RotateKey(ctx, intruder.ID, key.ID)
	assert.ErrorIs(t, err, ierr.ErrAPIKeyNotFound)
	assert.Equal(t, 1, store.CountActiveKeys(owner.ID))
}

func TestRevokeAndActivateKey(t *testing.T) {
	store := memstorage.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	acc, err := svc.Register(ctx, "trader@example.com", "s3cret-password")
	require.NoError(t, err)

	_, key, err := svc.CreateKey(ctx, acc.ID, "Production")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeKey(ctx, acc.ID, key.ID))
	assert.Equal(t, 0, store.CountActiveKeys(acc.ID))

	require.NoError(t, svc.ActivateKey(ctx, acc.ID, key.ID))
	assert.Equal(t, 1, store.CountActiveKeys(acc.ID))
}
