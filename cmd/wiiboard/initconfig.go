package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/colspan/wiiboard-simple/internal/config"
)

func NewInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file to ~/.config/wiiboard/config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s. Set the address of your board before connecting.\n", path)
			return nil
		},
	}
}
