package main

import (
	"github.com/jrsteele09/go-consent-server/jwk"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	var admin adminFlags
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage JSON Web Key sets of a running server",
	}
	admin.register(cmd)
	cmd.AddCommand(newKeysCreateCmd(&admin), newKeysGetCmd(&admin))
	return cmd
}

func newKeysCreateCmd(admin *adminFlags) *cobra.Command {
	var alg, kid, use string
	cmd := &cobra.Command{
		Use:   "create <set>",
		Short: "Generate a key in a set and print the set's public keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := admin.client()
			if err != nil {
				return err
			}
			set, err := api.CreateKeySet(cmd.Context(), args[0], alg, kid, use)
			if err != nil {
				return err
			}
			return printJSON(set)
		},
	}
	cmd.Flags().StringVar(&alg, "alg", "RS256", "key algorithm")
	cmd.Flags().StringVar(&kid, "kid", "", "key id, generated when empty")
	cmd.Flags().StringVar(&use, "use", jwk.UseSig, "sig or enc")
	return cmd
}

func newKeysGetCmd(admin *adminFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <set>",
		Short: "Print the public keys of a set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := admin.client()
			if err != nil {
				return err
			}
			set, err := api.GetKeySet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(set)
		},
	}
}
