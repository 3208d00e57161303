package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"cfgvault/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	backupGroup       string
	backupAll         bool
	backupRetries     int
	backupConcurrency int
)

var backupCmd = &cobra.Command{
	Use:   "backup [device...]",
	Short: "Back up devices now",
	Long:  "Back up the named devices, a group, or every device, through the running daemon.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && backupGroup == "" && !backupAll {
			return fmt.Errorf("name devices, or use --group or --all")
		}

		req := map[string]any{
			"devices":         args,
			"group":           backupGroup,
			"all":             backupAll,
			"max_concurrency": backupConcurrency,
		}
		if cmd.Flags().Changed("retries") {
			req["retries"] = backupRetries
		}

		var results []model.BackupResult
		if err := call(http.MethodPost, "/backups", req, &results); err != nil {
			return err
		}

		rows := make([][]string, 0, len(results))
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}

			size := "-"
			if r.Size > 0 {
				size = humanize.Bytes(uint64(r.Size))
			}
			verification := orDash(string(r.Verification))
			if r.Verification != "" {
				verification = statusColor(verification)
			}

			rows = append(rows, []string{
				r.DeviceName,
				statusColor(string(r.Status)),
				orDash(r.Protocol),
				strconv.Itoa(r.Attempts),
				size,
				verification,
				r.Message,
			})
		}

		printTable([]string{"device", "status", "protocol", "attempts", "size", "verification", "message"}, rows)

		if failed > 0 {
			return fmt.Errorf("%d of %d backups failed", failed, len(results))
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("%d backups completed", len(results))))
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupGroup, "group", "", "back up every device in this group")
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "back up every device")
	backupCmd.Flags().IntVar(&backupRetries, "retries", 0, "override the configured retry count")
	backupCmd.Flags().IntVar(&backupConcurrency, "concurrency", 0, "override the configured concurrency")
	rootCmd.AddCommand(backupCmd)
}
