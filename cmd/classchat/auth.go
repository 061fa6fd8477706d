package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// EnvPassword supplies the password non-interactively.
const EnvPassword = "CLASSROOM_PASSWORD"

func newLoginCmd(a *app) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session",
		Long:  "Sign in with a username and password. The password is read from " + EnvPassword + " or the first line of stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.password()
			if err != nil {
				return err
			}
			user, err := a.auth.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Signed in as %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var form types.Registration
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.password()
			if err != nil {
				return err
			}
			form.Password = password
			form.Role = types.UserRole(role)

			user, err := a.auth.Register(cmd.Context(), form)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Registered and signed in as %s (%s)\n", user.Username, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&form.Username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&form.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&role, "role", string(types.UserRoleStudent), "Role (student or teacher)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				a.logger.Warn("backend logout failed, local session cleared", slog.String("error", err.Error()))
			}
			fmt.Fprintln(a.stdout, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.auth.Restore(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				return errors.New("not signed in")
			}
			fmt.Fprintf(a.stdout, "%s <%s> %s\n", user.Username, user.Email, user.Role)
			return nil
		},
	}
}

func (a *app) password() (string, error) {
	if pw, ok := os.LookupEnv(EnvPassword); ok && pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
