package cmd

import (
	"fmt"
	"net/http"
	"time"

	"cfgvault/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyN      int
	historyDevice string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup history",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/backups?n=%d", historyN)
		if historyDevice != "" {
			id, err := deviceID(historyDevice)
			if err != nil {
				return err
			}
			path += fmt.Sprintf("&device_id=%d", id)
		}

		var backups []model.Backup
		if err := call(http.MethodGet, path, nil, &backups); err != nil {
			return err
		}

		if len(backups) == 0 {
			fmt.Println(dimStyle.Render("no backups yet"))
			return nil
		}

		rows := make([][]string, 0, len(backups))
		for _, b := range backups {
			size := "-"
			if b.FileSize > 0 {
				size = humanize.Bytes(uint64(b.FileSize))
			}
			verification := "-"
			if b.VerificationStatus != "" {
				verification = statusColor(string(b.VerificationStatus))
			}

			rows = append(rows, []string{
				b.CreatedAt.Local().Format(time.DateTime),
				b.DeviceName,
				statusColor(string(b.Status)),
				orDash(b.Protocol),
				size,
				verification,
				b.Message,
			})
		}

		printTable([]string{"time", "device", "status", "protocol", "size", "verification", "message"}, rows)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	historyCmd.Flags().StringVar(&historyDevice, "device", "", "only show one device (id or name)")
	rootCmd.AddCommand(historyCmd)
}
