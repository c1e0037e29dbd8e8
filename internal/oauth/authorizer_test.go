package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizer_AuthURL(t *testing.T) {
	states := NewStateStore(0)
	defer states.Stop()

	a := NewAuthorizer("", "example.amocrm.ru", testCreds, states)
	authURL, state := a.AuthURL()

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "www.amocrm.ru", u.Host)
	assert.Equal(t, "/oauth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "post_message", q.Get("mode"))
	assert.Equal(t, testCreds.RedirectURI, q.Get("redirect_uri"))
	assert.Empty(t, q.Get("client_secret"))

	assert.True(t, a.ValidateState(state))
	assert.False(t, a.ValidateState(state))
}

func TestAuthorizer_CustomURL(t *testing.T) {
	states := NewStateStore(0)
	defer states.Stop()

	a := NewAuthorizer("https://www.kommo.com/oauth", "example.kommo.com", testCreds, states)
	authURL, _ := a.AuthURL()
	assert.Contains(t, authURL, "https://www.kommo.com/oauth?")
}
