package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"livraison/internal/auth"
	"livraison/internal/commons"
	"livraison/internal/domain"
)

var tokenFlags struct {
	userID       string
	role         string
	restaurantID string
	ttl          time.Duration
}

// tokenCmd mints a bearer token signed with auth.secret, for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commons.LoadConfig(configPath)
		if err != nil {
			return err
		}
		token, err := auth.Mint(cfg.Auth, time.Now(), tokenFlags.ttl, domain.Actor{
			UserID:       tokenFlags.userID,
			Role:         domain.Role(tokenFlags.role),
			RestaurantID: tokenFlags.restaurantID,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.userID, "user", "", "user id")
	f.StringVar(&tokenFlags.role, "role", string(domain.RoleCustomer), "customer, restaurant, courier, admin or system")
	f.StringVar(&tokenFlags.restaurantID, "restaurant", "", "restaurant id for restaurant tokens")
	f.DurationVar(&tokenFlags.ttl, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
