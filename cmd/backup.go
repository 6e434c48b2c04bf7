package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub023/core/backup"
	"github.com/heremaps/xyz-hub-sub023/core/config"
	"github.com/heremaps/xyz-hub-sub023/core/database"
	"github.com/heremaps/xyz-hub-sub023/core/storage"
)

var (
	backupLabel   string
	restoreLatest bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the SQLite store",
	Long: `Write a consistent snapshot of the SQLite store to the backup directory.

Subcommands:
  list     - List backups, newest first
  restore  - Replace the store with a backup

Examples:
  hub backup
  hub backup --label nightly
  hub backup list
  hub backup restore --latest`,
	RunE: runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups",
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [path]",
	Short: "Replace the store with a backup",
	Long: `Replace the SQLite store file with a backup. No other process may have
the store open while it is restored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)

	backupCmd.Flags().StringVar(&backupLabel, "label", "manual", "Label used in the backup file name")
	backupRestoreCmd.Flags().BoolVar(&restoreLatest, "latest", false, "Restore the newest backup")
}

func backupManager(cfg *config.Config) *backup.Manager {
	dir := cfg.Storage.BackupDir
	if dir == "" {
		dir = storage.ResolveDirs().BackupDir()
	} else {
		dir = storage.ResolveDirs().ResolvePath(dir)
	}
	return backup.NewManager(backup.Config{Dir: dir, Keep: cfg.Storage.BackupKeep})
}

func sqliteConfig() (*config.Config, error) {
	m, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := m.Get()
	if cfg.Storage.Backend != config.BackendSQLite {
		return nil, fmt.Errorf("%w (backend is %s)", errNotSQLite, cfg.Storage.Backend)
	}
	return cfg, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := sqliteConfig()
	if err != nil {
		return err
	}
	pool, err := database.Open(storagePath(cfg), poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	info, err := backupManager(cfg).Backup(cmd.Context(), pool, backupLabel)
	if err != nil {
		return err
	}
	return outputBackups(cmd.OutOrStdout(), []backup.Info{info})
}

func runBackupList(cmd *cobra.Command, args []string) error {
	cfg, err := sqliteConfig()
	if err != nil {
		return err
	}
	backups, err := backupManager(cfg).List()
	if err != nil {
		return err
	}
	return outputBackups(cmd.OutOrStdout(), backups)
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	cfg, err := sqliteConfig()
	if err != nil {
		return err
	}
	m := backupManager(cfg)

	var path string
	switch {
	case len(args) == 1:
		path = args[0]
	case restoreLatest:
		latest, err := m.Latest()
		if err != nil {
			return err
		}
		path = latest.Path
	default:
		return fmt.Errorf("name a backup path or pass --latest")
	}

	if err := m.Restore(path, storagePath(cfg)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%sRestored%s %s\n", colorGreen, colorReset, path)
	return nil
}

func outputBackups(w io.Writer, backups []backup.Info) error {
	if outputJSON {
		return encodeJSON(w, backups)
	}
	if len(backups) == 0 {
		fmt.Fprintf(w, "%sNo backups.%s\n", colorYellow, colorReset)
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(w, "%s%-12s%s %s  %s%s%s\n", colorBold, b.Label, colorReset,
			b.CreatedAt.Format("2006-01-02 15:04:05"), colorGray, b.Path, colorReset)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
