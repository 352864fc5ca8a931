package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPreferencesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preferences",
		Short: "Show or change the stored run defaults",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the stored preferences as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, err := a.container.GetDatabase().GetPreferences()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(prefs)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "set key=value...",
		Short:   "Change stored preferences",
		Example: "  pdfbudget preferences set quality=screen limit=10MB turbo=false",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := make(map[string]interface{}, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || key == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				data[key] = value
			}
			return a.container.GetDatabase().UpdatePreferences(data)
		},
	})
	return cmd
}
