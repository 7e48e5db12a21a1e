package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-consent-server/internal/config"
	"github.com/jrsteele09/go-consent-server/loginprovider"
	"github.com/jrsteele09/go-consent-server/sdk"
	"github.com/jrsteele09/go-consent-server/server"
	"github.com/jrsteele09/go-consent-server/users"
	"github.com/jrsteele09/go-consent-server/users/memrepo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var port, baseURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consent server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The configuration reads the environment on every call.
			if port != "" {
				_ = os.Setenv("PORT", port)
			}
			if baseURL != "" {
				_ = os.Setenv("BASE_URL", baseURL)
			}
			return serve(cmd.Context(), config.New())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port, overrides PORT")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public base URL and issuer, overrides BASE_URL")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	displayAppname(cfg.GetAppName())

	deps, err := server.NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close stores")
		}
	}()

	srv, err := server.New(cfg, deps)
	if err != nil {
		return err
	}
	boot, err := srv.InitialiseSystem(ctx)
	if err != nil {
		return err
	}
	if cfg.GetLoginUIEnabled() {
		if err := mountLoginUI(ctx, cfg, srv, boot); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.GetPort(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listenAndServe(httpServer) })
	g.Go(func() error { return srv.Janitor(cfg.GetCleanupInterval()).Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		return shutdown(httpServer)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// mountLoginUI serves the bundled login and consent pages. They settle
// challenges through the admin API of this very process, authenticated as
// the admin client.
func mountLoginUI(ctx context.Context, cfg config.Config, srv *server.Server, boot *server.BootstrapResult) error {
	flows, err := sdk.New(sdk.Config{
		URL:          "http://127.0.0.1" + cfg.GetPort(),
		ClientID:     boot.AdminClientID,
		ClientSecret: boot.AdminClientSecret,
		Scopes:       []string{cfg.GetAdminScope()},
	})
	if err != nil {
		return errors.Wrap(err, "[mountLoginUI] admin client")
	}

	repo := memrepo.New()
	email := cfg.GetDemoUserEmail()
	if _, err := users.EnsureUser(ctx, repo, email, strings.Split(email, "@")[0], cfg.GetDemoUserPassword()); err != nil {
		return errors.Wrap(err, "[mountLoginUI] demo user")
	}

	provider, err := loginprovider.New(cfg.GetAppName(), flows, repo)
	if err != nil {
		return errors.Wrap(err, "[mountLoginUI] templates")
	}
	srv.MountUI("/ui/", provider)
	log.Info().Str("login_url", cfg.GetLoginURL()).Str("demo_user", email).Msg("login UI enabled")
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
