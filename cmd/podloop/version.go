package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"podloop/internal/config"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "podloop v%s\n", config.Version)
		},
	}
}
