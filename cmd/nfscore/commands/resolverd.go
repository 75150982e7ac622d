package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfscore/internal/cli/output"
	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/pkg/config"
	idmapstore "github.com/marmos91/nfscore/pkg/idmap/store"
	"github.com/marmos91/nfscore/pkg/idmap/upcall"
)

var resolverdCmd = &cobra.Command{
	Use:   "resolverd",
	Short: "Identity resolver daemon and its mapping database",
	Long: `The resolver daemon answers identity upcalls from nfscore instances whose
resolver type is "upcall". Mappings live in SQLite or PostgreSQL, as set in
the resolverd.database section, and are managed with the user and group
subcommands.

Examples:
  # Serve upcalls on the configured socket
  nfscore resolverd serve

  # Add a group and a user, then make the user a member
  nfscore resolverd group add staff --gid 100
  nfscore resolverd user add alice --uid 1000 --gid 100
  nfscore resolverd user add-member alice staff`,
}

var resolverdServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve identity upcalls",
	RunE:  runResolverdServe,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage mapped users",
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage mapped groups",
}

var (
	userUID uint32
	userGID uint32
	groupID uint32
)

func init() {
	userAddCmd.Flags().Uint32Var(&userUID, "uid", 0, "Numeric user id (required)")
	userAddCmd.Flags().Uint32Var(&userGID, "gid", 0, "Primary group id")
	_ = userAddCmd.MarkFlagRequired("uid")
	groupAddCmd.Flags().Uint32Var(&groupID, "gid", 0, "Numeric group id (required)")
	_ = groupAddCmd.MarkFlagRequired("gid")

	userCmd.AddCommand(userAddCmd, userListCmd, userDeleteCmd, userAddMemberCmd)
	groupCmd.AddCommand(groupAddCmd, groupListCmd, groupDeleteCmd)
	resolverdCmd.AddCommand(resolverdServeCmd, userCmd, groupCmd)
}

// loadResolverdConfig loads the configuration, falling back to defaults
// when no file exists so the database commands work out of the box.
func loadResolverdConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openIdmapStore() (*idmapstore.Store, error) {
	cfg, err := loadResolverdConfig()
	if err != nil {
		return nil, err
	}
	store, err := idmapstore.New(&cfg.Resolverd.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open idmap database: %w", err)
	}
	return store, nil
}

func runResolverdServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadResolverdConfig()
	if err != nil {
		return err
	}

	store, err := idmapstore.New(&cfg.Resolverd.Database)
	if err != nil {
		return fmt.Errorf("failed to open idmap database: %w", err)
	}
	defer func() { _ = store.Close() }()

	srv := upcall.NewServer(cfg.Resolverd.Listen, store)
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("Resolver daemon listening",
		logger.KeyAddr, srv.Addr(),
		"database", string(cfg.Resolverd.Database.Type))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := srv.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Resolver daemon shutdown error", logger.Err(err))
	}
	logger.Info("Resolver daemon stopped", "served", srv.Served())
	return serveErr
}

// ============================================================================
// Users
// ============================================================================

var userAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		u := &idmapstore.User{Name: args[0], UID: userUID, GID: userGID}
		if err := store.CreateUser(cmd.Context(), u); err != nil {
			return fmt.Errorf("failed to add user %s: %w", args[0], err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "User %s added (uid %d, gid %d)\n", u.Name, u.UID, u.GID)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := getFormat()
		if err != nil {
			return err
		}
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		users, err := store.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		return output.Print(cmd.OutOrStdout(), format, users, func() *output.Table {
			t := output.NewTable("NAME", "UID", "GID", "GROUPS", "CREATED")
			for _, u := range users {
				t.Add(u.Name, strconv.FormatUint(uint64(u.UID), 10), strconv.FormatUint(uint64(u.GID), 10),
					groupNames(u), u.CreatedAt.Format(time.RFC3339))
			}
			return t
		})
	},
}

func groupNames(u *idmapstore.User) string {
	if len(u.Groups) == 0 {
		return "-"
	}
	names := make([]string, len(u.Groups))
	for i, g := range u.Groups {
		names[i] = g.Name
	}
	return strings.Join(names, ", ")
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.DeleteUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", args[0], err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "User %s deleted\n", args[0])
		return nil
	},
}

var userAddMemberCmd = &cobra.Command{
	Use:   "add-member USER GROUP",
	Short: "Add a user to a supplementary group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.AddMember(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to add %s to %s: %w", args[0], args[1], err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "User %s added to group %s\n", args[0], args[1])
		return nil
	},
}

// ============================================================================
// Groups
// ============================================================================

var groupAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		g := &idmapstore.Group{Name: args[0], GID: groupID}
		if err := store.CreateGroup(cmd.Context(), g); err != nil {
			return fmt.Errorf("failed to add group %s: %w", args[0], err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Group %s added (gid %d)\n", g.Name, g.GID)
		return nil
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := getFormat()
		if err != nil {
			return err
		}
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		groups, err := store.ListGroups(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}
		return output.Print(cmd.OutOrStdout(), format, groups, func() *output.Table {
			t := output.NewTable("NAME", "GID", "CREATED")
			for _, g := range groups {
				t.Add(g.Name, strconv.FormatUint(uint64(g.GID), 10), g.CreatedAt.Format(time.RFC3339))
			}
			return t
		})
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openIdmapStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.DeleteGroup(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete group %s: %w", args[0], err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Group %s deleted\n", args[0])
		return nil
	},
}
