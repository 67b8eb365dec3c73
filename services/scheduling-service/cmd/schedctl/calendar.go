package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/storage"
	"github.com/spf13/cobra"
)

func newCalendarCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Set up property calendars",
	}
	cmd.AddCommand(newCalendarPutCmd(a), newCalendarBlockCmd(a))
	return cmd
}

func newCalendarPutCmd(a *app) *cobra.Command {
	var (
		cal      model.PropertyCalendar
		owner    string
		inactive bool
		windows  []string
	)
	cmd := &cobra.Command{
		Use:   "put <property-id>",
		Short: "Create or replace a property calendar and its weekly windows",
		Example: `  schedctl calendar put bldg-1 --timezone America/New_York \
    --external-calendar agent@example.com --window mon=09:00-17:00 --window sat=10:00-14:00
  schedctl calendar put unit-4b --owner bldg-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal.PropertyID = args[0]
			cal.Active = !inactive
			if owner != "" {
				if owner == cal.PropertyID {
					return fmt.Errorf("a property cannot own itself")
				}
				cal.OwnerPropertyID = &owner
			}
			if _, err := time.LoadLocation(cal.Timezone); err != nil {
				return fmt.Errorf("timezone %q: %w", cal.Timezone, err)
			}
			parsed := make([]model.WeeklyWindow, 0, len(windows))
			for _, raw := range windows {
				w, err := parseWindow(raw)
				if err != nil {
					return err
				}
				w.PropertyID = cal.PropertyID
				parsed = append(parsed, w)
			}

			pool, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := storage.NewStore(pool).PutCalendar(cmd.Context(), cal, parsed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "calendar %s saved with %d windows\n", cal.PropertyID, len(parsed))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cal.Title, "title", "", "display title")
	f.StringVar(&cal.Timezone, "timezone", "UTC", "IANA timezone")
	f.StringVar(&cal.ExternalCalendarID, "external-calendar", "", "external calendar id")
	f.StringVar(&cal.Location, "location", "", "showing address")
	f.StringVar(&owner, "owner", "", "property whose calendar this unit shares")
	f.BoolVar(&inactive, "inactive", false, "store the calendar as inactive")
	f.StringArrayVar(&windows, "window", nil, "weekly window as day=HH:MM-HH:MM (repeatable)")
	return cmd
}

func newCalendarBlockCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <property-id> <YYYY-MM-DD>",
		Short: "Block a whole day on a property calendar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := model.ParseDate(args[1])
			if err != nil {
				return err
			}
			pool, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := storage.NewStore(pool).BlockDate(cmd.Context(), args[0], d, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s blocked on %s\n", args[0], d)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the day is unavailable")
	return cmd
}

var weekdays = map[string]int{"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6}

// parseWindow reads "mon=09:00-17:00".
func parseWindow(raw string) (model.WeeklyWindow, error) {
	day, span, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return model.WeeklyWindow{}, fmt.Errorf("window %q: want day=HH:MM-HH:MM", raw)
	}
	dow, ok := weekdays[strings.ToLower(day)]
	if !ok {
		return model.WeeklyWindow{}, fmt.Errorf("window %q: unknown day %q", raw, day)
	}
	from, to, ok := strings.Cut(span, "-")
	if !ok {
		return model.WeeklyWindow{}, fmt.Errorf("window %q: want day=HH:MM-HH:MM", raw)
	}
	start, err := parseClock(from)
	if err != nil {
		return model.WeeklyWindow{}, fmt.Errorf("window %q: %w", raw, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return model.WeeklyWindow{}, fmt.Errorf("window %q: %w", raw, err)
	}
	if end <= start {
		return model.WeeklyWindow{}, fmt.Errorf("window %q: end must be after start", raw)
	}
	return model.WeeklyWindow{DayOfWeek: dow, StartMinute: start, EndMinute: end, Active: true}, nil
}

// parseClock returns minutes since midnight; "24:00" is accepted as a window end.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("bad time %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("bad time %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 || hh < 0 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return hh*60 + mm, nil
}
