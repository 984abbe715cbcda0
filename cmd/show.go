package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/skyguard/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:         "show <session-id>",
	Short:       "Show the threat summary and moving-threat ranking of a stored session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		ctx := cmd.Context()

		info, err := DB.GetSession(ctx, id)
		if err != nil {
			utils.Die("Failed to load session", err, nil)
		}
		summaries, err := DB.GetLabelSummaries(ctx, id)
		if err != nil {
			utils.Die("Failed to load label summaries", err, nil)
		}
		ranking, err := DB.GetMovingThreats(ctx, id)
		if err != nil {
			utils.Die("Failed to load moving threats", err, nil)
		}

		fmt.Printf("📼 %s  (%dx%d @ %.2f fps, %d keyframes, %d detections)\n",
			info.Path, info.Width, info.Height, info.FPS, info.Frames, info.Detections)
		fmt.Println("\n📊 Threat Summary")
		printSummaries(os.Stdout, summaries)
		fmt.Println("\n🎯 Moving Threats")
		printRanking(os.Stdout, ranking)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
