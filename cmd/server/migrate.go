package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/lkj1313/LiveBoard/internal/config"
	"github.com/lkj1313/LiveBoard/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		database, err := db.New(cfg.DB.Path)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer database.Close()

		stats, err := database.GetStats(context.Background())
		if err != nil {
			return err
		}
		log.Printf("Schema ready at %s (rooms: %v, strokes: %v, images: %v, chat messages: %v)",
			cfg.DB.Path, stats["room_count"], stats["stroke_count"], stats["image_count"], stats["chat_count"])
		return nil
	},
}
