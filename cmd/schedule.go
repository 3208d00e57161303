package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cfgvault/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage backup schedules",
}

var newSchedule struct {
	Type      string
	StartTime string
	Days      string
	MonthDays string
	Months    string
	Rule      string
	Priority  int
	Device    string
	Group     string
	All       bool
	Disabled  bool
}

var weekdays = map[string]int{
	"mon": 0, "tue": 1, "wed": 2, "thu": 3, "fri": 4, "sat": 5, "sun": 6,
}

// parseDays reads weekday names (mon..sun) or numbers with 0 for Monday.
func parseDays(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		if d, ok := weekdays[strings.ToLower(part)[:min(3, len(part))]]; ok {
			out = append(out, d)
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func buildSchedule(name string) (model.Schedule, error) {
	s := model.Schedule{
		Name:      name,
		Type:      model.ScheduleType(newSchedule.Type),
		StartTime: newSchedule.StartTime,
		Rule:      newSchedule.Rule,
		Priority:  newSchedule.Priority,
		Enabled:   !newSchedule.Disabled,
	}

	var err error
	if s.DaysOfWeek, err = parseDays(newSchedule.Days); err != nil {
		return s, err
	}
	if s.DaysOfMonth, err = parseInts(newSchedule.MonthDays); err != nil {
		return s, err
	}
	if s.Months, err = parseInts(newSchedule.Months); err != nil {
		return s, err
	}

	switch {
	case newSchedule.Device != "":
		s.TargetType = model.TargetDevice
		s.TargetID, err = deviceID(newSchedule.Device)
	case newSchedule.Group != "":
		s.TargetType = model.TargetGroup
		s.TargetID, err = groupID(newSchedule.Group)
	case newSchedule.All:
		s.TargetType = model.TargetAll
	default:
		err = fmt.Errorf("choose a target with --device, --group or --all")
	}
	return s, err
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildSchedule(args[0])
		if err != nil {
			return err
		}

		var created model.Schedule
		if err := call(http.MethodPost, "/schedules", s, &created); err != nil {
			return err
		}

		next := "-"
		if created.NextRun != nil {
			next = created.NextRun.Local().Format(time.DateTime)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("schedule added: id=%d next run %s", created.ID, next)))
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		var schedules []model.Schedule
		if err := call(http.MethodGet, "/schedules", nil, &schedules); err != nil {
			return err
		}

		if len(schedules) == 0 {
			fmt.Println(dimStyle.Render("no schedules configured"))
			return nil
		}

		rows := make([][]string, 0, len(schedules))
		for _, s := range schedules {
			enabled := successStyle.Render("yes")
			if !s.Enabled {
				enabled = dimStyle.Render("no")
			}

			target := string(s.TargetType)
			if s.TargetID != 0 {
				target = fmt.Sprintf("%s %d", s.TargetType, s.TargetID)
			}

			rows = append(rows, []string{
				strconv.FormatUint(uint64(s.ID), 10),
				s.Name,
				describeRecurrence(s),
				target,
				strconv.Itoa(s.Priority),
				enabled,
				relative(s.LastRun),
				relative(s.NextRun),
			})
		}

		printTable([]string{"id", "name", "when", "target", "priority", "enabled", "last run", "next run"}, rows)
		return nil
	},
}

func describeRecurrence(s model.Schedule) string {
	switch s.Type {
	case model.ScheduleWeekly:
		return fmt.Sprintf("weekly %v at %s", s.DaysOfWeek, s.StartTime)
	case model.ScheduleMonthly:
		return fmt.Sprintf("monthly %v at %s", s.DaysOfMonth, s.StartTime)
	case model.ScheduleCustom:
		if s.Rule != "" {
			return "cron " + s.Rule
		}
		return "custom"
	default:
		return "daily at " + s.StartTime
	}
}

func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func scheduleAction(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid schedule id %q", args[0])
			}

			method, path := http.MethodPost, "/schedules/"+args[0]+"/"+action
			if action == "" {
				method, path = http.MethodDelete, "/schedules/"+args[0]
			}
			if err := call(method, path, nil, nil); err != nil {
				return err
			}

			fmt.Printf("schedule %s %sd\n", args[0], use)
			return nil
		},
	}
}

func init() {
	f := scheduleAddCmd.Flags()
	f.StringVar(&newSchedule.Type, "type", "daily", "daily, weekly, monthly or custom")
	f.StringVar(&newSchedule.StartTime, "at", "02:00", "start time HH:MM in the daemon's timezone")
	f.StringVar(&newSchedule.Days, "days", "", "weekdays for weekly and custom schedules, e.g. mon,thu")
	f.StringVar(&newSchedule.MonthDays, "month-days", "", "days of month, e.g. 1,15,31")
	f.StringVar(&newSchedule.Months, "months", "", "months 1-12 to restrict monthly and custom schedules")
	f.StringVar(&newSchedule.Rule, "cron", "", "cron expression for custom schedules")
	f.IntVar(&newSchedule.Priority, "priority", 0, "higher priority wins when schedules overlap")
	f.StringVar(&newSchedule.Device, "device", "", "target one device (id or name)")
	f.StringVar(&newSchedule.Group, "group", "", "target a group")
	f.BoolVar(&newSchedule.All, "all", false, "target every device")
	f.BoolVar(&newSchedule.Disabled, "disabled", false, "create the schedule disabled")

	scheduleCmd.AddCommand(
		scheduleAddCmd,
		scheduleListCmd,
		scheduleAction("enable", "Enable a schedule", "enable"),
		scheduleAction("disable", "Disable a schedule", "disable"),
		scheduleAction("remove", "Remove a schedule", ""),
	)
	rootCmd.AddCommand(scheduleCmd)
}
