package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub023/core/feature"
	"github.com/heremaps/xyz-hub-sub023/core/spaces"
)

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "List configured spaces",
	RunE:  runSpaces,
}

func init() {
	rootCmd.AddCommand(spacesCmd)
}

func runSpaces(cmd *cobra.Command, args []string) error {
	m, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := m.Get()
	registry, err := spaces.FromConfig(cfg, cfg.Log.NewLogger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	list := registry.List()
	if outputJSON {
		return encodeJSON(cmd.OutOrStdout(), list)
	}
	return outputSpaces(cmd.OutOrStdout(), registry, list)
}

func outputSpaces(w io.Writer, registry *spaces.Registry, list []feature.Space) error {
	if len(list) == 0 {
		fmt.Fprintf(w, "%sNo spaces configured.%s\n", colorYellow, colorReset)
		return nil
	}

	fmt.Fprintf(w, "%s%sSpaces%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	for _, s := range list {
		fmt.Fprintf(w, "%s%-20s%s keep %s", colorBold, s.ID, colorReset, retentionLabel(s.VersionsToKeep))
		if s.IsComposite() {
			fmt.Fprintf(w, "  %sextends %s%s", colorBlue, s.Extends, colorReset)
		}
		if registry.AllowSuperWrite(s.ID) {
			fmt.Fprintf(w, "  %ssuper writes%s", colorGreen, colorReset)
		}
		if s.Title != "" {
			fmt.Fprintf(w, "  %s%s%s", colorGray, s.Title, colorReset)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func retentionLabel(n int) string {
	if n == feature.UnboundedVersions {
		return "all"
	}
	return fmt.Sprintf("%d", n)
}
