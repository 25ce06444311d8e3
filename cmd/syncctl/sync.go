package syncctl

import (
	"fmt"

	"github.com/spf13/cobra"

	syncpkg "usersync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass for the configured resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			if err := e.Sync(cmd.Context(), syncpkg.Manifest{}, nil); err != nil {
				return fmt.Errorf("sync %s: %w", flagResource, err)
			}
			fmt.Printf("%s: %s\n", flagResource, e.Status())
			return nil
		},
	}
}
