package main

import (
	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/jrsteele09/go-consent-server/internal/logging"
	"github.com/jrsteele09/go-consent-server/sdk"
	"github.com/spf13/cobra"
)

// adminFlags are shared by the commands that talk to a running server.
type adminFlags struct {
	endpoint     string
	clientID     string
	clientSecret string
}

func (f *adminFlags) register(cmd *cobra.Command) {
	env := config.EnvVars{}
	sec := config.Security{}
	cmd.PersistentFlags().StringVarP(&f.endpoint, "endpoint", "e", env.GetBaseURL(), "base URL of the consent server")
	cmd.PersistentFlags().StringVar(&f.clientID, "client-id", sec.GetAdminClientID(), "admin client id")
	cmd.PersistentFlags().StringVar(&f.clientSecret, "client-secret", sec.GetAdminClientSecret(), "admin client secret")
}

func (f *adminFlags) client() (*sdk.Client, error) {
	return sdk.New(sdk.Config{
		URL:          f.endpoint,
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		Scopes:       []string{config.Security{}.GetAdminScope()},
	})
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "consent-server",
		Short:         "OAuth 2.0 and OpenID Connect server that delegates login and consent",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			c := config.New()
			logging.Setup(c.GetLogLevel(), c.GetEnv())
		},
	}
	root.AddCommand(newServeCmd(), newClientsCmd(), newKeysCmd(), newTokenCmd())
	return root
}
