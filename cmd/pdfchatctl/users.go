package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/store"
)

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersDisableCmd)
	usersCmd.AddCommand(usersEnableCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts",
}

var usersDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable an account and revoke its sessions",
	Long: `Disable an account. A disabled account cannot log in, and every token
issued before now is revoked when --redis-addr is set.

Examples:
  pdfchatctl users disable alice@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetUserStatus(cmd, args[0], domain.StatusDisabled)
	},
}

var usersEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Re-enable a disabled account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetUserStatus(cmd, args[0], domain.StatusActive)
	},
}

// userRevoker invalidates every session of a user issued before since.
type userRevoker interface {
	RevokeUser(userUUID string, since time.Time) error
}

func runSetUserStatus(cmd *cobra.Command, email string, status domain.UserStatus) error {
	ctx := cmd.Context()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var revoker userRevoker
	if strings.TrimSpace(redisAddr) != "" {
		r := store.NewRedisTokenRevoker(redisAddr, redisPassword, 0)
		defer r.Close()
		revoker = r
	}
	return setUserStatus(ctx, cmd.OutOrStdout(), s.users, revoker, email, status, time.Now())
}

func setUserStatus(ctx context.Context, out io.Writer, users store.UserStore, revoker userRevoker, email string, status domain.UserStatus, now time.Time) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return errors.New("email is required")
	}
	user, ok, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return fmt.Errorf("no account for %s", email)
	}
	if _, err := users.SetUserStatus(ctx, email, status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if status == domain.StatusDisabled && revoker != nil {
		if err := revoker.RevokeUser(user.UUID, now); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	fmt.Fprintf(out, "%s is now %s\n", email, status)
	return nil
}
