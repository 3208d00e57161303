package cmd

import (
	"fmt"

	"cfgvault/internal/auth"
	"cfgvault/internal/config"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize cloud storage for artifact push",
}

func authorize(newProvider func(dir string) auth.Provider) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dir, err := config.AppDir()
		if err != nil {
			return err
		}

		p := newProvider(dir)
		if err := p.Authorize(cmd.Context()); err != nil {
			return err
		}

		fmt.Println(successStyle.Render("authorized with " + p.Name()))
		return nil
	}
}

var authDropboxCmd = &cobra.Command{
	Use:   "dropbox",
	Short: "Authorize Dropbox",
	RunE: authorize(func(dir string) auth.Provider {
		return auth.NewDropbox(dir)
	}),
}

var authGDriveCmd = &cobra.Command{
	Use:   "gdrive",
	Short: "Authorize Google Drive",
	RunE: authorize(func(dir string) auth.Provider {
		return auth.NewGDrive(dir)
	}),
}

func init() {
	authCmd.AddCommand(authDropboxCmd, authGDriveCmd)
	rootCmd.AddCommand(authCmd)
}
