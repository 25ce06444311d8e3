package syncctl

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	syncpkg "usersync/internal/sync"
)

func newHandlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handles",
		Short: "List the remote and local backup handles recorded for the resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}

			var remoteHandles, localHandles []syncpkg.SyncResourceHandle
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				var err error
				remoteHandles, err = e.GetRemoteSyncResourceHandles(ctx)
				return err
			})
			g.Go(func() error {
				var err error
				localHandles, err = e.GetLocalSyncResourceHandles(ctx)
				return err
			})
			if err := g.Wait(); err != nil {
				return fmt.Errorf("list handles for %s: %w", flagResource, err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"KIND", "CREATED", "URI"})
			for _, h := range remoteHandles {
				t.AppendRow(table.Row{"remote", h.Created.Format("2006-01-02T15:04:05Z07:00"), h.URI.String()})
			}
			for _, h := range localHandles {
				t.AppendRow(table.Row{"local", h.Created.Format("2006-01-02T15:04:05Z07:00"), h.URI.String()})
			}
			t.Render()
			return nil
		},
	}
}
