package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crmgate/internal/config"
	"crmgate/internal/oauth"
	"crmgate/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeServices(t *testing.T) {
	settings := testSettings(t)
	settings.CRM.BufferSeconds = 120

	services, err := InitializeServices(*settings)
	require.NoError(t, err)
	defer services.Close()

	assert.Equal(t, settings.CRM.Buffer(), services.Store.Buffer())

	status := services.Tokens.Status(context.Background())
	assert.False(t, status.Authorized)
	assert.True(t, status.Expired)
	assert.Equal(t, "example.amocrm.ru", status.ConfiguredDomain)

	authURL, state := services.Authorizer.AuthURL()
	assert.Contains(t, authURL, "client_id=client-id")
	assert.True(t, services.States.Validate(state))
}

func TestInitializeServicesRejectsMissingPath(t *testing.T) {
	settings := testSettings(t)
	settings.Storage.Path = ""

	_, err := InitializeServices(*settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open token store")
}

func TestInitializeServicesRejectsShortRefreshTokenByDefault(t *testing.T) {
	settings := testSettings(t)
	require.Equal(t, config.DefaultMinRefreshTokenLength, settings.CRM.MinRefreshTokenLength)

	writeStoredRecord(t, settings.Storage.Path, token.Record{
		AccessToken:   "A",
		RefreshToken:  "abc",
		ExpiresAt:     time.Now().Add(time.Hour).Unix(),
		AccountDomain: settings.CRM.Domain,
	})

	services, err := InitializeServices(*settings)
	require.NoError(t, err)
	defer services.Close()

	_, err = services.Store.Load(context.Background())
	assert.ErrorIs(t, err, token.ErrNotFound)
	assert.False(t, services.Tokens.Status(context.Background()).Authorized)
}

func TestInitializeServicesSharesStatesBetweenProcesses(t *testing.T) {
	settings := testSettings(t)

	cli, err := InitializeServices(*settings)
	require.NoError(t, err)
	defer cli.Close()

	gateway, err := InitializeServices(*settings)
	require.NoError(t, err)
	defer gateway.Close()

	assert.Equal(t, oauth.StateFilePath(cli.Store.Path()), cli.States.Path())

	_, state := cli.Authorizer.AuthURL()
	assert.True(t, gateway.Authorizer.ValidateState(state))
	assert.False(t, cli.Authorizer.ValidateState(state))
}

func writeStoredRecord(t *testing.T, path string, rec token.Record) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
