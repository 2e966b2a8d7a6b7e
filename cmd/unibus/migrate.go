package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or roll back the database schema",
	Args:  cobra.NoArgs,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSchema(cmd.Context(), func(ctx context.Context, db *database.DB) error {
			return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Long: `Roll back the most recent applied migration using its .down.sql file.
The controller applies pending migrations again on its next start.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSchema(cmd.Context(), func(ctx context.Context, db *database.DB) error {
			if err := db.MigrateDown(ctx); err != nil {
				return fmt.Errorf("rolling back: %w", err)
			}
			return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withSchema(ctx context.Context, fn func(context.Context, *database.DB) error) error {
	cfg, err := loadToolConfig()
	if err != nil {
		return err
	}

	db, err := openSchema(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}

func printMigrationStatus(ctx context.Context, w io.Writer, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("Applied (%d)", len(applied))))
	s.WriteString("\n")
	for _, m := range applied {
		s.WriteString(labelStyle.Render(m.Version))
		s.WriteString(valueStyle.Render(m.AppliedAt.Format("2006-01-02 15:04:05")))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(titleStyle.Render(fmt.Sprintf("Pending (%d)", len(pending))))
	s.WriteString("\n")
	for _, m := range pending {
		s.WriteString(labelStyle.Render(m.Version))
		s.WriteString(valueStyle.Render(m.Name))
		s.WriteString("\n")
	}

	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(s.String(), "\n")))
	return nil
}
