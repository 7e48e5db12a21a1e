package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jrsteele09/go-consent-server/clients"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/spf13/cobra"
)

func newClientsCmd() *cobra.Command {
	var admin adminFlags
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage OAuth 2.0 clients of a running server",
	}
	admin.register(cmd)
	cmd.AddCommand(newClientsCreateCmd(&admin), newClientsListCmd(&admin))
	return cmd
}

func newClientsCreateCmd(admin *adminFlags) *cobra.Command {
	var (
		c          clients.Client
		grants     []string
		responses  []string
		authMethod string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client and print it, including its secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := admin.client()
			if err != nil {
				return err
			}
			c.GrantTypes = oauth2.Arguments(grants)
			c.ResponseTypes = oauth2.Arguments(responses)
			c.TokenEndpointAuthMethod = oauth2.TokenEndpointAuthMethod(authMethod)
			created, err := api.CreateClient(cmd.Context(), &c)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.ID, "id", "", "client id, generated when empty")
	f.StringVar(&c.Name, "name", "", "human readable name")
	f.StringVar(&c.Secret, "secret", "", "client secret, generated for confidential clients when empty")
	f.StringSliceVar(&c.RedirectURIs, "redirect-uris", nil, "allowed redirect URIs")
	f.StringSliceVar(&grants, "grant-types", []string{string(oauth2.AuthorizationCodeGrant), string(oauth2.RefreshTokenGrant)}, "grant types")
	f.StringSliceVar(&responses, "response-types", []string{"code"}, "response types")
	f.StringVar(&c.Scope, "scope", "", "space separated scopes the client may request")
	f.StringSliceVar(&c.Audience, "audience", nil, "audiences the client may request")
	f.StringSliceVar(&c.PostLogoutRedirectURIs, "post-logout-redirect-uris", nil, "allowed post logout redirect URIs")
	f.StringVar(&authMethod, "token-endpoint-auth-method", string(oauth2.ClientSecretBasic), "client_secret_basic, client_secret_post, private_key_jwt or none")
	return cmd
}

func newClientsListCmd(admin *adminFlags) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := admin.client()
			if err != nil {
				return err
			}
			list, err := api.ListClients(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT ID\tNAME\tGRANT TYPES\tSCOPE")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, strings.Join(c.GrantTypes, ","), c.Scope)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of clients to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of clients")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
