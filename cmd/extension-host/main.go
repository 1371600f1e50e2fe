package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/DhyeyTeraiya/new--sub004/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		logging.New(logging.LevelError).Error("extension-host command failed", "error", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "extension-host",
		Short:         "Messaging and session host for the browsing assistant extension",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())

	return root
}
