package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all scan sessions stored in the database",
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	sessions, err := DB.ListSessions(cmd.Context())
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tVIDEO\tFRAMES\tDETECTIONS\tCREATED")
	fmt.Fprintln(w, "--\t-----\t------\t----------\t-------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.Path, s.Frames, s.Detections, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
