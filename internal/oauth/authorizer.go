package oauth

import (
	"golang.org/x/oauth2"
)

// DefaultAuthorizeURL is the CRM's interactive consent page.
const DefaultAuthorizeURL = "https://www.amocrm.ru/oauth"

// Authorizer builds authorization URLs for the interactive consent flow.
type Authorizer struct {
	config *oauth2.Config
	states *StateStore
}

// NewAuthorizer creates an Authorizer. An empty authorizeURL selects
// DefaultAuthorizeURL.
func NewAuthorizer(authorizeURL, domain string, creds Credentials, states *StateStore) *Authorizer {
	if authorizeURL == "" {
		authorizeURL = DefaultAuthorizeURL
	}
	return &Authorizer{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authorizeURL,
				TokenURL:  "https://" + domain + TokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		states: states,
	}
}

// AuthURL returns a consent URL bound to a freshly issued state value.
func (a *Authorizer) AuthURL() (authURL, state string) {
	state = a.states.Generate()
	authURL = a.config.AuthCodeURL(state, oauth2.SetAuthURLParam("mode", "post_message"))
	return authURL, state
}

// ValidateState consumes a state value received on the callback.
func (a *Authorizer) ValidateState(state string) bool {
	return a.states.Validate(state)
}
