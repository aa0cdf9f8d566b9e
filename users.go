package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-service/library"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

func newUserCmd(a *app) *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var in library.RegisterInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user, prompting for the password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, fmt.Sprintf("Enter password for %s: ", in.Email))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			in.Password = password

			mgr, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			u, err := mgr.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			role := "user"
			if u.IsAdmin {
				role = "admin"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s '%s' <%s> with ID %d\n", role, u.Name, u.Email, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "display name")
	add.Flags().StringVar(&in.Email, "email", "", "login email")
	add.Flags().BoolVar(&in.IsAdmin, "admin", false, "grant admin rights")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")

	user.AddCommand(add)
	return user
}

// readPassword reads a password with masking when stdin is a terminal, and a
// single line otherwise so the command can be scripted.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(cmd.ErrOrStderr()) // newline after masked input
	return strings.TrimSpace(string(bytePassword)), nil
}
