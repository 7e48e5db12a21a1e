package oauth2_test

import (
	"net/url"
	"testing"

	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/stretchr/testify/require"
)

// TestParseAuthorizationParameters reads every supported query parameter.
func TestParseAuthorizationParameters(t *testing.T) {
	q := url.Values{
		"client_id":      {"app"},
		"response_type":  {"code id_token"},
		"redirect_uri":   {"https://app/cb"},
		"scope":          {"openid offline"},
		"state":          {"xyz"},
		"nonce":          {"n-1"},
		"code_challenge": {"abc"},
		"prompt":         {"login consent"},
		"max_age":        {"60"},
		"login_verifier": {"v1"},
	}
	p := oauth2.ParseAuthorizationParameters(q)

	require.Equal(t, "app", p.ClientID)
	require.True(t, p.ResponseTypes.Matches("code", "id_token"))
	require.Equal(t, oauth2.CodeMethodTypePlain, p.CodeChallengeMethod)
	require.True(t, p.Prompt.Has(oauth2.PromptLogin))
	require.Equal(t, 60, p.MaxAge)
	require.Equal(t, "v1", p.LoginVerifier)
	require.True(t, p.IsImplicit())
	require.Equal(t, oauth2.FragmentResponseMode, p.EffectiveResponseMode())
}

// TestEffectiveResponseMode_Defaults covers code flow defaults and bad max_age.
func TestEffectiveResponseMode_Defaults(t *testing.T) {
	p := oauth2.ParseAuthorizationParameters(url.Values{"response_type": {"code"}, "max_age": {"-5"}})
	require.Equal(t, oauth2.QueryResponseMode, p.EffectiveResponseMode())
	require.Equal(t, -1, p.MaxAge)

	p.ResponseMode = oauth2.FormPostResponseMode
	require.Equal(t, oauth2.FormPostResponseMode, p.EffectiveResponseMode())
}
