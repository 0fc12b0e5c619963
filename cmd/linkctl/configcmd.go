package main

import (
	"fmt"

	"github.com/danmuck/boardlink/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage config files",
	}
	var (
		kind  string
		out   string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := out
			if path == "" {
				path = defaultConfigPath(kind)
			}
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "client", "client or fake-server")
	initCmd.Flags().StringVarP(&out, "out", "o", "", "output path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func defaultConfigPath(kind string) string {
	if kind == "fake-server" {
		return "fake-server.toml"
	}
	return "boardlink.toml"
}
