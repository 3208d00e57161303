package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cfgvault/internal/model"
	"cfgvault/internal/repository"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Jobs      []model.JobSnapshot `json:"jobs"`
			Stats     repository.Stats    `json:"stats"`
			StartedAt *time.Time          `json:"started_at"`
		}
		if err := call(http.MethodGet, "/status", nil, &result); err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("==> cfgvault daemon"))
		if result.StartedAt != nil {
			fmt.Printf("  up since %s\n", humanize.Time(*result.StartedAt))
		}
		fmt.Printf("  backups: %d total, %d completed, %d failed, %d cancelled\n\n",
			result.Stats.Total, result.Stats.Completed, result.Stats.Failed, result.Stats.Cancelled)

		if len(result.Jobs) == 0 {
			fmt.Println(dimStyle.Render("no backups running"))
			return nil
		}

		rows := make([][]string, 0, len(result.Jobs))
		for _, j := range result.Jobs {
			rows = append(rows, []string{
				j.DeviceName,
				string(j.State),
				strconv.Itoa(j.Attempt),
				time.Since(j.StartedAt).Round(time.Second).String(),
			})
		}
		printTable([]string{"device", "state", "attempt", "running for"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
