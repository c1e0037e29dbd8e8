package app

import (
	"fmt"

	"crmgate/internal/auth"
	"crmgate/internal/config"
	"crmgate/internal/crm"
	"crmgate/internal/oauth"
	"crmgate/internal/token"
	"crmgate/pkg/logging"
)

// Services holds the wired components.
type Services struct {
	Settings config.Config

	Store      *token.FileStore
	OAuth      *oauth.Client
	States     *oauth.StateStore
	Authorizer *oauth.Authorizer
	Tokens     *auth.Manager
	CRM        *crm.Executor
}

// InitializeServices builds every component from settings. It creates the
// token store (and its directory) when missing.
func InitializeServices(settings config.Config) (*Services, error) {
	store, err := token.NewFileStore(token.StoreConfig{
		Path:   settings.Storage.Path,
		Buffer: settings.CRM.Buffer(),
		Validation: token.ValidationOptions{
			MinRefreshTokenLength: settings.CRM.MinRefreshTokenLength,
			RequireJWT:            settings.CRM.JWTAccessTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	creds := oauth.Credentials{
		ClientID:     settings.CRM.ClientID,
		ClientSecret: settings.CRM.ClientSecret,
		RedirectURI:  settings.CRM.RedirectURI,
	}
	oauthClient := oauth.NewClient(settings.CRM.Domain, creds, oauth.WithLogger(logging.Logger("OAuthClient")))

	tokens, err := auth.NewManager(auth.ManagerConfig{
		Store:  store,
		Client: oauthClient,
		Lock:   auth.NewRefreshLock(auth.RefreshLockPath(store.Path()), settings.CRM.LockTimeout, 0),
		Domain: settings.CRM.Domain,
		Buffer: settings.CRM.Buffer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	states := oauth.NewStateStore(oauth.DefaultStateExpiry, oauth.WithStateFile(oauth.StateFilePath(store.Path())))

	logging.Debug("Bootstrap", "Services initialized (store=%s, domain=%s)", store.Path(), settings.CRM.Domain)

	return &Services{
		Settings:   settings,
		Store:      store,
		OAuth:      oauthClient,
		States:     states,
		Authorizer: oauth.NewAuthorizer(settings.CRM.AuthorizeURL, settings.CRM.Domain, creds, states),
		Tokens:     tokens,
		CRM:        crm.NewExecutor(settings.CRM.Domain, tokens),
	}, nil
}

// Close releases background resources.
func (s *Services) Close() {
	s.States.Stop()
}
