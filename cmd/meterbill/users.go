package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bher20/meterbill/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage login accounts",
	}
	cmd.AddCommand(newUsersCreateCmd(a), newUsersListCmd(a))
	return cmd
}

func newUsersCreateCmd(a *app) *cobra.Command {
	var (
		email    string
		password string
		admin    bool
	)
	cmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a user, prompting for the password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if password == "" {
				p, err := promptPassword()
				if err != nil {
					return err
				}
				password = p
			}

			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)
			authSvc, err := a.authService(st)
			if err != nil {
				return err
			}

			role := auth.RoleOwner
			if admin {
				role = auth.RoleAdmin
			}
			u, err := authSvc.Register(ctx, args[0], password, email, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address for monthly statements")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	return cmd
}

func newUsersListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)

			users, err := st.ListUsers(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tROLE\tEMAIL\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Username, u.Role, u.Email, u.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; pass --password")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}
	return string(first), nil
}
