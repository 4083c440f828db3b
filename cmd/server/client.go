package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/config"
	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/auth"
	"go.pilab.hu/authz/log"
)

var clientCmd = &cobra.Command{
	Use:     "client",
	Short:   "Manage registered clients",
	Aliases: []string{"clients"},
}

var clientRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a client in the persistent client registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		if cfg.ClientRegistry == config.BackendMemory {
			return errors.New("the memory client registry is not persistent, add the client to CLIENTS instead")
		}

		id, _ := flags.GetString("id")
		secret, _ := flags.GetString("secret")
		grantTypes, _ := flags.GetStringSlice("grant-types")
		scopes, _ := flags.GetStringSlice("scopes")
		redirectURIs, _ := flags.GetStringSlice("redirect-uris")
		resourceIDs, _ := flags.GetStringSlice("resource-ids")
		authorities, _ := flags.GetStringSlice("authorities")
		autoApprove, _ := flags.GetStringSlice("auto-approve")
		accessTTL, _ := flags.GetDuration("access-token-ttl")
		refreshTTL, _ := flags.GetDuration("refresh-token-ttl")

		stores := newBackends(cfg, appLogger)
		defer stores.Close(ctx)

		store, err := stores.ClientStore(ctx)
		if err != nil {
			return err
		}

		registry := client.NewRegistry(store, auth.NewBcryptPasswordHasher(bcrypt.DefaultCost))

		c := &domain.Client{
			ID:              id,
			GrantTypes:      grantTypes,
			Scopes:          scopes,
			RedirectURIs:    redirectURIs,
			ResourceIDs:     resourceIDs,
			Authorities:     authorities,
			AutoApprove:     autoApprove,
			AccessTokenTTL:  accessTTL,
			RefreshTokenTTL: refreshTTL,
			CreatedAt:       time.Now().UTC(),
		}
		if err := registry.RegisterClient(ctx, c, secret); err != nil {
			return err
		}

		appLogger.Info(ctx, "Client registered", log.Fields{
			"client_id":   c.ID,
			"grant_types": c.GrantTypes,
			"public":      !c.SecretRequired,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "client %s registered\n", c.ID)

		return nil
	},
}

func init() {
	f := clientRegisterCmd.Flags()
	f.String("id", "", "client identifier")
	f.String("secret", "", "client secret, empty registers a public client")
	f.StringSlice("grant-types", nil, "authorized grant types")
	f.StringSlice("scopes", nil, "allowed scopes")
	f.StringSlice("redirect-uris", nil, "registered redirect URIs")
	f.StringSlice("resource-ids", nil, "resource ids, used as the token audience")
	f.StringSlice("authorities", nil, "authorities granted to client credentials tokens")
	f.StringSlice("auto-approve", nil, `auto-approved scopes, "true" approves all`)
	f.Duration("access-token-ttl", 0, "access token lifetime, zero uses the server default")
	f.Duration("refresh-token-ttl", 0, "refresh token lifetime, zero uses the server default")

	_ = clientRegisterCmd.MarkFlagRequired("id")
	_ = clientRegisterCmd.MarkFlagRequired("grant-types")

	clientCmd.AddCommand(clientRegisterCmd)
}
