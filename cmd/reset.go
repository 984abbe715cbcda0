package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/skyguard/internal/records"
	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Output Files)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				if err := connectDB(cmd.Context()); err != nil {
					utils.Die("Database unavailable", err, nil)
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if confirm(reader, "⚠️  Are you sure you want to delete the scan output files?") {
				fmt.Println("🗑️  Clearing Output Files...")
				for _, path := range outputFiles() {
					removeFile(path)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "database", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear scan outputs (detections CSV/JSON, events, threat-motion)")
	rootCmd.AddCommand(resetCmd)
}

// outputFiles lists the files a scan with the current configuration writes.
func outputFiles() []string {
	paths := []string{
		cfg.Output.CSV,
		records.EventsPath(cfg.Output.CSV),
		records.ThreatMotionPath(cfg.Output.CSV),
		records.FrameMetaPath(cfg.Output.CSV),
	}
	if cfg.Output.JSON != "" {
		paths = append(paths, cfg.Output.JSON)
	}
	return paths
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
