package syncctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Force-overwrite the remote resource from the local copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine()
			if err != nil {
				return err
			}
			if err := e.Push(cmd.Context()); err != nil {
				return fmt.Errorf("push %s: %w", flagResource, err)
			}
			fmt.Printf("%s: pushed\n", flagResource)
			return nil
		},
	}
}
