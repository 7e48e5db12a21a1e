package config

type UrlsConfig interface {
	GetLoginURL() string
	GetConsentURL() string
	GetLogoutURL() string
	GetPostLogoutRedirectURL() string
}

// Urls points at the login, consent and logout provider UIs. The defaults
// target the bundled demo provider.
type Urls struct{}

var _ UrlsConfig = Urls{}

func (Urls) GetLoginURL() string {
	return GetEnv("LOGIN_URL", EnvVars{}.GetBaseURL()+"/ui/login")
}

func (Urls) GetConsentURL() string {
	return GetEnv("CONSENT_URL", EnvVars{}.GetBaseURL()+"/ui/consent")
}

func (Urls) GetLogoutURL() string {
	return GetEnv("LOGOUT_URL", EnvVars{}.GetBaseURL()+"/ui/logout")
}

func (Urls) GetPostLogoutRedirectURL() string {
	return GetEnv("POST_LOGOUT_REDIRECT_URL", EnvVars{}.GetBaseURL()+"/ui/logged-out")
}
