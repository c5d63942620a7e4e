package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/noah-isme/afterschool-ops-api/internal/bootstrap"
	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	"github.com/noah-isme/afterschool-ops-api/internal/models"
	"github.com/noah-isme/afterschool-ops-api/pkg/config"
	"github.com/noah-isme/afterschool-ops-api/pkg/logger"
)

type materializeRunner interface {
	Refresh(ctx context.Context, req dto.MaterializeRequest) (*dto.MaterializeReport, error)
}

type calendarReader interface {
	Build(ctx context.Context, query dto.CalendarQuery) (*dto.CalendarResponse, error)
}

type unmarkedReader interface {
	ListUnmarked(ctx context.Context, query dto.UnmarkedSessionsQuery) ([]models.Session, error)
}

// services is what the subcommands need; tests swap in fakes.
type services struct {
	materializer materializeRunner
	calendar     calendarReader
	attendance   unmarkedReader
	close        func()
}

type serviceLoader func(ctx context.Context) (*services, error)

func loadServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	container, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		return nil, err
	}
	return &services{
		materializer: container.Materializer,
		calendar:     container.Calendar,
		attendance:   container.Attendance,
		close: func() {
			container.Close()
			_ = logr.Sync()
		},
	}, nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(loadServices)
}

func newRootCmdWith(load serviceLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operate the after-school session ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMaterializeCmd(load),
		newCalendarCmd(load),
		newUnmarkedCmd(load),
	)
	return root
}

func newMaterializeCmd(load serviceLoader) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Create the sessions every regular program owes through a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()
			report, err := svc.materializer.Refresh(cmd.Context(), dto.MaterializeRequest{Date: date})
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if n := len(report.Failures); n > 0 {
				return fmt.Errorf("%d units failed to materialize", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date (YYYY-MM-DD), defaults to today")
	return cmd
}

func newCalendarCmd(load serviceLoader) *cobra.Command {
	var query dto.CalendarQuery
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print a student's per-day attended hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()
			view, err := svc.calendar.Build(cmd.Context(), query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range view.Entries {
				fmt.Fprintf(out, "%s\t%s\t%d\n", entry.Date, entry.HoursAttended.String(), entry.Sessions)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query.ProgramID, "program", "", "program id")
	cmd.Flags().StringVar(&query.StudentID, "student", "", "student id")
	cmd.Flags().StringVar(&query.From, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&query.To, "to", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("program")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func newUnmarkedCmd(load serviceLoader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "unmarked",
		Short: "List sessions still awaiting attendance confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()
			sessions, err := svc.attendance.ListUnmarked(cmd.Context(), dto.UnmarkedSessionsQuery{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range sessions {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s-%s\t%d\n", s.ID, s.ProgramID, s.Date.Format("2006-01-02"), s.StartTime, s.EndTime, len(s.Attendance))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sessions to list")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
