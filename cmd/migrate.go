package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub023/core/database"
	"github.com/heremaps/xyz-hub-sub023/core/history"
)

var (
	migrateStatus   bool
	migrateCheck    bool
	migrateNoBackup bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQLite schema migrations",
	Long: `Apply pending schema migrations to the SQLite store named in the
configuration. Stores are also migrated when a command opens them; this
command lets operators do it ahead of time and inspect the result.

An existing store with pending migrations is backed up first unless
--no-backup is given.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Only list pending migrations")
	migrateCmd.Flags().BoolVar(&migrateCheck, "check", false, "Run an integrity check after migrating")
	migrateCmd.Flags().BoolVar(&migrateNoBackup, "no-backup", false, "Skip the backup taken before migrating")
}

type migrateOutput struct {
	Path    string   `json:"path"`
	Version int      `json:"version"`
	Applied int      `json:"applied"`
	Pending []string `json:"pending,omitempty"`
	Backup  string   `json:"backup,omitempty"`
	Healthy *bool    `json:"healthy,omitempty"`
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := sqliteConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := migrateOutput{Path: storagePath(cfg)}
	existed := fileExists(out.Path)
	pool, err := database.Open(out.Path, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator := database.NewMigrator(pool, history.Migrations)
	pending, err := migrator.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	switch {
	case migrateStatus:
		for _, p := range pending {
			out.Pending = append(out.Pending, fmt.Sprintf("%d: %s", p.Version, p.Description))
		}
	default:
		if existed && len(pending) > 0 && !migrateNoBackup {
			info, err := backupManager(cfg).Backup(ctx, pool, "premigrate")
			if err != nil {
				return fmt.Errorf("backup before migrate: %w", err)
			}
			out.Backup = info.Path
		}
		if out.Applied, err = migrator.Migrate(ctx); err != nil {
			return err
		}
	}

	if out.Version, err = migrator.CurrentVersion(ctx); err != nil {
		return err
	}
	if migrateCheck {
		healthy := pool.IntegrityCheck(ctx) == nil
		out.Healthy = &healthy
	}
	return outputMigrate(cmd.OutOrStdout(), out)
}

func outputMigrate(w io.Writer, out migrateOutput) error {
	if outputJSON {
		return encodeJSON(w, out)
	}
	fmt.Fprintf(w, "%sStore:%s   %s\n", colorGray, colorReset, out.Path)
	fmt.Fprintf(w, "%sVersion:%s %d\n", colorGray, colorReset, out.Version)
	if out.Backup != "" {
		fmt.Fprintf(w, "%sBackup:%s  %s\n", colorGray, colorReset, out.Backup)
	}
	if out.Applied > 0 {
		fmt.Fprintf(w, "%sApplied %d migrations%s\n", colorGreen, out.Applied, colorReset)
	}
	for _, p := range out.Pending {
		fmt.Fprintf(w, "%sPending:%s %s\n", colorYellow, colorReset, p)
	}
	if out.Healthy != nil {
		if *out.Healthy {
			fmt.Fprintf(w, "%sIntegrity check passed%s\n", colorGreen, colorReset)
		} else {
			fmt.Fprintf(w, "%sIntegrity check failed%s\n", colorRed, colorReset)
		}
	}
	return nil
}
