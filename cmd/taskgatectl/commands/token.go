package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "taskgate/internal/jwt_token"
	"taskgate/internal/platform/config"
	id "taskgate/pkg/domain"
	"taskgate/pkg/requestcontext"
)

// NewTokenCmd creates the token command. It signs with the server's
// configured key, so it is only useful against development deployments.
func NewTokenCmd() *cobra.Command {
	var (
		configPath string
		tenant     string
		user       string
		role       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Server.Environment == "production" {
				return fmt.Errorf("refusing to mint tokens for a production config")
			}
			tenantID, err := id.ParseTenantID(tenant)
			if err != nil {
				return err
			}
			userID, err := id.ParseUserID(user)
			if err != nil {
				return err
			}

			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
			token, err := svc.GenerateAccessToken(requestcontext.Principal{
				TenantID: tenantID,
				UserID:   userID,
				Role:     role,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "server config YAML")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant UUID")
	cmd.Flags().StringVar(&user, "user", "", "user UUID")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim (admin, owner, teacher)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
