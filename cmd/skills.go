package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage disk-defined skills",
	}
	cmd.AddCommand(skillsListCmd())
	return cmd
}

func skillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List skills found in the project and user skill directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			all := app.skills.LoadAll()
			if len(all) == 0 {
				fmt.Println("no skills found; searched:")
				for _, p := range app.skills.ScanPaths() {
					fmt.Println("  " + p)
				}
				return nil
			}

			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				s := all[name]
				line := fmt.Sprintf("%-20s %s", name, s.Description)
				if len(s.AllowedTools) > 0 {
					line += fmt.Sprintf(" (tools: %s)", strings.Join(s.AllowedTools, ", "))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
