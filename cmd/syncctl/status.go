package syncctl

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	syncpkg "usersync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resource's current status and any open conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}

			// A bare status query has no notion of "in progress" outside of
			// an active Sync call in this process, so report what a fresh
			// preview would show: Idle unless a conflict would be raised.
			preview, err := e.GenerateSyncPreview(cmd.Context())
			if err != nil {
				return fmt.Errorf("status %s: %w", flagResource, err)
			}

			status := syncpkg.Idle
			if preview != nil && preview.HasConflicts() {
				status = syncpkg.HasConflicts
			}
			fmt.Printf("%s: %s\n", flagResource, status)

			if status != syncpkg.HasConflicts {
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"LOCAL", "REMOTE"})
			for _, c := range preview.Conflicts() {
				t.AppendRow(table.Row{c.Local.String(), c.Remote.String()})
			}
			t.Render()
			return nil
		},
	}
}
