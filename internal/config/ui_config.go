package config

type UIConfig interface {
	GetLoginUIEnabled() bool
	GetDemoUserEmail() string
	GetDemoUserPassword() string
}

type UI struct{}

var _ UIConfig = UI{}

func (UI) GetLoginUIEnabled() bool {
	return getEnvBool("LOGIN_UI_ENABLED", true)
}

func (UI) GetDemoUserEmail() string {
	return GetEnv("DEMO_USER_EMAIL", "foo@bar.com")
}

func (UI) GetDemoUserPassword() string {
	return GetEnv("DEMO_USER_PASSWORD", "foobar")
}
