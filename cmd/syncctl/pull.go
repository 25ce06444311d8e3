package syncctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Force-overwrite the local resource from the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			if err := e.Pull(cmd.Context()); err != nil {
				return fmt.Errorf("pull %s: %w", flagResource, err)
			}
			fmt.Printf("%s: pulled\n", flagResource)
			return nil
		},
	}
}
