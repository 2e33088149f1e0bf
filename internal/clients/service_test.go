package clients_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/audit"
	"github.com/crestline/oauth-service/internal/clients"
	"github.com/crestline/oauth-service/internal/secrets"
	"github.com/crestline/oauth-service/internal/storage/memory"
)

func newService(t *testing.T) (*clients.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	enc, err := secrets.NewEncryptor(make([]byte, 32))
	require.NoError(t, err)
	svc := clients.New(clients.Dependencies{
		Store:     store,
		Tokens:    store,
		Encryptor: enc,
		Auditor:   audit.New(zap.NewNop()),
		Logger:    zap.NewNop(),
	})
	return svc, store
}

func registerClient(t *testing.T, svc *clients.Service, owner string) *clients.Client {
	t.Helper()
	c, err := svc.Register(context.Background(), clients.RegisterInput{
		OwnerID:      owner,
		Name:         "Dashboard",
		RedirectURIs: []string{"https://app.example.com/cb"},
	})
	require.NoError(t, err)
	return c
}

func TestRegisterDefaultsAndSecret(t *testing.T) {
	svc, _ := newService(t)
	c := registerClient(t, svc, "owner-1")

	require.NotEmpty(t, c.ClientID)
	require.NotEmpty(t, c.Secret)
	require.Equal(t, []string{"openid", "profile", "email"}, c.AllowedScopes)
	require.True(t, c.Active)
	require.False(t, c.Verified)
	require.False(t, c.Public)
}

func TestRegisterPublicClientHasNoSecret(t *testing.T) {
	svc, _ := newService(t)
	c, err := svc.Register(context.Background(), clients.RegisterInput{
		OwnerID:      "owner-1",
		Name:         "SPA",
		RedirectURIs: []string{"https://spa.example.com/cb"},
		Public:       true,
	})
	require.NoError(t, err)
	require.Empty(t, c.Secret)
	require.True(t, c.Public)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, clients.RegisterInput{
		OwnerID:      "owner-1",
		RedirectURIs: []string{"https://a.example.com/cb"},
	})
	require.ErrorIs(t, err, clients.ErrNameRequired)

	_, err = svc.Register(ctx, clients.RegisterInput{
		OwnerID: "owner-1",
		Name:    "App",
	})
	require.ErrorIs(t, err, clients.ErrRedirectURIInvalid)

	_, err = svc.Register(ctx, clients.RegisterInput{
		OwnerID:      "owner-1",
		Name:         "App",
		RedirectURIs: []string{"not-a-uri"},
	})
	require.ErrorIs(t, err, clients.ErrRedirectURIInvalid)

	_, err = svc.Register(ctx, clients.RegisterInput{
		OwnerID:      "owner-1",
		Name:         "App",
		RedirectURIs: []string{"https://a.example.com/cb"},
		Scopes:       []string{"superuser"},
	})
	require.ErrorIs(t, err, clients.ErrUnknownScope)
}

func TestGetOwnedReturnsSecretAndEnforcesOwnership(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := registerClient(t, svc, "owner-1")

	got, err := svc.GetOwned(ctx, c.ClientID, "owner-1")
	require.NoError(t, err)
	require.Equal(t, c.Secret, got.Secret)

	_, err = svc.GetOwned(ctx, c.ClientID, "owner-2")
	require.ErrorIs(t, err, clients.ErrForbidden)

	_, err = svc.GetOwned(ctx, "cl_missing", "owner-1")
	require.ErrorIs(t, err, clients.ErrClientNotFound)
}

func TestListOmitsSecrets(t *testing.T) {
	svc, _ := newService(t)
	registerClient(t, svc, "owner-1")

	list, err := svc.List(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Empty(t, list[0].Secret)
}

func TestGetPublicIsRedacted(t *testing.T) {
	svc, _ := newService(t)
	c := registerClient(t, svc, "owner-1")

	view, err := svc.GetPublic(context.Background(), c.ClientID)
	require.NoError(t, err)
	require.Equal(t, c.ClientID, view.ClientID)
	require.Equal(t, "Dashboard", view.Name)

	_, err = svc.GetPublic(context.Background(), "cl_missing")
	require.ErrorIs(t, err, clients.ErrClientNotFound)
}

func TestUpdatePartialPatch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := registerClient(t, svc, "owner-1")

	name := "Renamed"
	updated, err := svc.Update(ctx, c.ClientID, "owner-1", clients.UpdateInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
	// Untouched fields survive.
	require.Equal(t, c.RedirectURIs, updated.RedirectURIs)
	require.Equal(t, c.AllowedScopes, updated.AllowedScopes)

	bad := []string{"nope"}
	_, err = svc.Update(ctx, c.ClientID, "owner-1", clients.UpdateInput{RedirectURIs: &bad})
	require.ErrorIs(t, err, clients.ErrRedirectURIInvalid)

	_, err = svc.Update(ctx, c.ClientID, "owner-2", clients.UpdateInput{Name: &name})
	require.ErrorIs(t, err, clients.ErrForbidden)
}

func TestRotateSecretInvalidatesOldSecret(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := registerClient(t, svc, "owner-1")

	newSecret, err := svc.RotateSecret(ctx, c.ClientID, "owner-1")
	require.NoError(t, err)
	require.NotEmpty(t, newSecret)
	require.NotEqual(t, c.Secret, newSecret)

	got, err := svc.GetOwned(ctx, c.ClientID, "owner-1")
	require.NoError(t, err)
	require.Equal(t, newSecret, got.Secret)

	_, err = svc.RotateSecret(ctx, c.ClientID, "owner-2")
	require.ErrorIs(t, err, clients.ErrForbidden)
}

func TestDeactivate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	c := registerClient(t, svc, "owner-1")

	require.NoError(t, svc.Deactivate(ctx, c.ClientID, "owner-1"))

	record, err := store.GetClientByClientID(ctx, c.ClientID)
	require.NoError(t, err)
	require.False(t, record.Active)
}

func TestDeleteRemovesClient(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	c := registerClient(t, svc, "owner-1")

	require.NoError(t, svc.Delete(ctx, c.ClientID, "owner-1"))

	_, err := store.GetClientByClientID(ctx, c.ClientID)
	require.Error(t, err)

	require.ErrorIs(t, svc.Delete(ctx, c.ClientID, "owner-1"), clients.ErrClientNotFound)
}
