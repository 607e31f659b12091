package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/porthorian/authlite"
	"github.com/porthorian/authlite/pkg/authz"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newUserCommand(func() (userClient, error) {
		client, err := openClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	}))
}

// userClient is the slice of *authlite.Client the user commands call.
type userClient interface {
	Registry() *authz.Registry
	CreateUser(ctx context.Context, input authlite.CreateUserInput) (int64, error)
	DeleteUser(ctx context.Context, userID int64) error
	GetUser(ctx context.Context, userID int64) (authlite.User, error)
	ReplacePermissions(ctx context.Context, userID int64, value authz.Replacement) error
	GrantPermissions(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error)
	RevokePermissions(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error)
	Close() error
}

func newUserCommand(open func() (userClient, error)) *cobra.Command {
	withClient := func(cmd *cobra.Command, run func(client userClient) error) error {
		client, err := open()
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				cmd.PrintErrf("warning: %v\n", closeErr)
			}
		}()
		return run(client)
	}

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts and permission masks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		password    string
		permissions []string
	)
	createCmd := &cobra.Command{
		Use:   "create <login>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = lookupEnv("AUTHLITE_PASSWORD")
			}
			if password == "" {
				return errors.New("missing password: set --password or AUTHLITE_PASSWORD")
			}

			return withClient(cmd, func(client userClient) error {
				id, err := client.CreateUser(cmd.Context(), authlite.CreateUserInput{
					Login:       args[0],
					Password:    password,
					Permissions: permissions,
				})
				if err != nil {
					return err
				}
				cmd.Printf("Created user %d.\n", id)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&password, "password", "", "Initial password. Can also be set via AUTHLITE_PASSWORD.")
	createCmd.Flags().StringSliceVarP(&permissions, "permission", "p", nil, "Initial permission name. Repeatable.")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(client userClient) error {
				if err := client.DeleteUser(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("Deleted user %d.\n", id)
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user and its permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(client userClient) error {
				user, err := client.GetUser(cmd.Context(), id)
				if err != nil {
					return err
				}
				cmd.Printf("id:          %d\n", user.ID)
				cmd.Printf("login:       %s\n", user.Login)
				cmd.Printf("mask:        %#x\n", uint64(user.PermissionMask))
				cmd.Printf("permissions: %s\n", formatNames(user.Permissions))
				cmd.Printf("added:       %s\n", user.DateAdded.Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}

	grantCmd := &cobra.Command{
		Use:   "grant <id> <permission>...",
		Short: "Add permissions to a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(client userClient) error {
				mask, err := client.GrantPermissions(cmd.Context(), id, args[1:]...)
				if err != nil {
					return err
				}
				printMask(cmd, client.Registry(), id, mask)
				return nil
			})
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <id> <permission>...",
		Short: "Remove permissions from a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(client userClient) error {
				mask, err := client.RevokePermissions(cmd.Context(), id, args[1:]...)
				if err != nil {
					return err
				}
				printMask(cmd, client.Registry(), id, mask)
				return nil
			})
		},
	}

	var rawMask string
	setCmd := &cobra.Command{
		Use:   "set <id> [permission]...",
		Short: "Replace a user's permissions with the given names or --mask",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			value, err := parseReplacement(rawMask, args[1:])
			if err != nil {
				return err
			}
			return withClient(cmd, func(client userClient) error {
				if err := client.ReplacePermissions(cmd.Context(), id, value); err != nil {
					return err
				}
				printMask(cmd, client.Registry(), id, client.Registry().Replace(value))
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&rawMask, "mask", "", "Raw mask to store as-is (decimal or 0x hex).")

	userCmd.AddCommand(createCmd, deleteCmd, showCmd, grantCmd, revokeCmd, setCmd)
	return userCmd
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q: expected a positive integer", arg)
	}
	return id, nil
}

func parseReplacement(rawMask string, names []string) (authz.Replacement, error) {
	rawMask = strings.TrimSpace(rawMask)
	if rawMask == "" {
		return authz.Names(names), nil
	}
	if len(names) > 0 {
		return nil, errors.New("--mask cannot be combined with permission names")
	}

	mask, err := strconv.ParseUint(rawMask, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid mask %q: %w", rawMask, err)
	}
	return authz.PermissionMask(mask), nil
}

func printMask(cmd *cobra.Command, registry *authz.Registry, id int64, mask authz.PermissionMask) {
	cmd.Printf("User %d: %#x %s\n", id, uint64(mask), formatNames(registry.Names(mask)))
}

func formatNames(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ",")
}
