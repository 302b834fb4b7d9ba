package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lkj1313/LiveBoard/internal/config"
)

// Shared by every subcommand. Flags are bound on top of the env defaults.
var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "liveboard",
	Short: "Real-time collaborative whiteboard server",
	Long: `liveboard serves shared whiteboard rooms over WebSocket.

Strokes, placed images and chat are stored in SQLite and replayed to
every participant that joins a room. Configuration comes from the
environment (or a .env file) and can be overridden with flags.`,
	SilenceUsage: true,
}

// Execute runs the command line. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite database (env LIVEBOARD_DB_PATH)")
	v.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}
