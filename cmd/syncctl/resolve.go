package syncctl

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	syncpkg "usersync/internal/sync"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <local-conflict-uri> <resolution-file>",
		Short: "Accept a conflict resolution for the resource's current preview",
		Long: `resolve re-runs the reconciliation needed to surface the resource's
current conflicts, then applies the resolution content read from
resolution-file (use - for stdin) against the conflict named by
local-conflict-uri, the local handle URI shown by "syncctl status".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conflictURI, contentPath := args[0], args[1]

			e, err := buildEngine()
			if err != nil {
				return err
			}

			if err := e.Sync(cmd.Context(), syncpkg.Manifest{}, nil); err != nil {
				return fmt.Errorf("resolve %s: %w", flagResource, err)
			}
			if e.Status() != syncpkg.HasConflicts {
				fmt.Printf("%s: no open conflicts\n", flagResource)
				return nil
			}

			content, err := readResolutionContent(contentPath)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", flagResource, err)
			}

			if err := e.AcceptConflict(cmd.Context(), conflictURI, content); err != nil {
				return fmt.Errorf("resolve %s: %w", flagResource, err)
			}
			fmt.Printf("%s: %s\n", flagResource, e.Status())
			return nil
		},
	}
}

func readResolutionContent(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
