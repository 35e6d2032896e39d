package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reelforge/internal/store/postgres"
)

var migrateYes bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := migrator(cmd)
		if err != nil {
			return err
		}
		if err := m.Up(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ Schema is up to date"))
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration (drops all data)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := migrator(cmd)
		if err != nil {
			return err
		}
		if !migrateYes {
			var confirm bool
			if err := huh.NewConfirm().
				Title("Roll back all migrations?").
				Description("Every job, queue entry and connected account will be deleted.").
				Affirmative("Roll back").
				Negative("Cancel").
				Value(&confirm).
				Run(); err != nil {
				return err
			}
			if !confirm {
				fmt.Println(infoStyle.Render("Cancelled"))
				return nil
			}
		}
		if err := m.Down(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ Migrations rolled back"))
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := migrator(cmd)
		if err != nil {
			return err
		}
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		switch {
		case version == 0:
			fmt.Println(infoStyle.Render("No migrations applied"))
		case dirty:
			fmt.Println(warnStyle.Render(fmt.Sprintf("Version %d (dirty: a migration failed halfway)", version)))
		default:
			fmt.Println(infoStyle.Render(fmt.Sprintf("Version %d", version)))
		}
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().BoolVarP(&migrateYes, "yes", "y", false, "Skip the confirmation prompt")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func migrator(cmd *cobra.Command) (*postgres.Migrator, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	return postgres.NewMigrator(cfg.DatabaseURL, zap.L()), nil
}
