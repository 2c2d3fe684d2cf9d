package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/candy-kiosk/internal/config"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage registered identities",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered identities",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete one registered identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersDelete,
}

var usersClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every registered identity",
	Args:  cobra.NoArgs,
	RunE:  runUsersClear,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd, usersDeleteCmd, usersClearCmd)

	usersClearCmd.Flags().Bool("yes", false, "Confirm deleting all identities")
}

// withStores opens the configured stores for one command and saves the
// identity index afterwards.
func withStores(fn func(ctx context.Context, st *stores) error) error {
	cfg := config.Load()
	logger, err := cliLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	st, err := openStores(ctx, cfg, clockwork.NewRealClock(), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := fn(ctx, st); err != nil {
		return err
	}
	st.saveIndex()
	return nil
}

func runUsersList(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, st *stores) error {
		records, err := st.identities.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list identities: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No identities registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tDIM\tCREATED\tUPDATED")
		fmt.Fprintln(w, "----\t---\t-------\t-------")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", rec.UserID, rec.Dim,
				rec.CreatedAt.Format("2006-01-02 15:04"), rec.UpdatedAt.Format("2006-01-02 15:04"))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flushing output: %w", err)
		}
		fmt.Printf("\nTotal: %d identities\n", len(records))
		return nil
	})
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	userID := args[0]
	return withStores(func(ctx context.Context, st *stores) error {
		deleted, err := st.identities.Delete(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		if !deleted {
			return fmt.Errorf("user %q not found", userID)
		}
		fmt.Printf("Deleted %s\n", userID)
		return nil
	})
}

func runUsersClear(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		return errors.New("refusing to delete all identities without --yes")
	}
	return withStores(func(ctx context.Context, st *stores) error {
		count, err := st.identities.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count identities: %w", err)
		}
		if err := st.identities.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear identities: %w", err)
		}
		fmt.Printf("Deleted %d identities\n", count)
		return nil
	})
}
