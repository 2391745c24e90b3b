package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hfstack/ai-web-studio/internal/db"
	"github.com/hfstack/ai-web-studio/internal/detached"
	"github.com/hfstack/ai-web-studio/internal/logging"
	"github.com/hfstack/ai-web-studio/internal/model"
	"github.com/hfstack/ai-web-studio/internal/pty"
	"github.com/hfstack/ai-web-studio/internal/repository"
)

func newProcessesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "Inspect and manage recorded detached processes",
		Long: `Operate on the durable detached-process records directly. These commands
work whether or not the server is running.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSupervisor(opts, func(sup *detached.Supervisor) error {
				processes, err := sup.List(cmd.Context())
				if err != nil {
					return err
				}
				return printProcesses(cmd.OutOrStdout(), processes)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <port>",
		Short: "Kill the process recorded for a port and remove its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil || port < 1 || port > 65535 {
				return model.ErrInvalidPort
			}
			return withSupervisor(opts, func(sup *detached.Supervisor) error {
				if err := sup.Stop(cmd.Context(), port); err != nil {
					return fmt.Errorf("stop port %d: %w", port, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stopped process on port %d\n", port)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete records whose timeout has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSupervisor(opts, func(sup *detached.Supervisor) error {
				n, err := sup.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired record(s)\n", n)
				return nil
			})
		},
	})

	return cmd
}

// withSupervisor opens the store and runs fn with a supervisor that has no
// live processes, so every operation goes through the durable records.
func withSupervisor(opts *options, fn func(*detached.Supervisor) error) error {
	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(settings.LogLevel, settings.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	database, err := db.Open(settings.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	sup := detached.NewSupervisor(pty.ShellSpawner{}, repository.NewProcessRepository(database), detached.Config{
		Shell:          settings.ShellPath,
		DefaultTimeout: settings.DetachedDefaultTimeout,
		AdvertiseHost:  settings.AdvertiseHost,
	}, logger.Named("detached"), nil)
	defer sup.Close()

	logger.Debug("opened process store", zap.String("path", settings.DatabasePath))
	return fn(sup)
}

func printProcesses(w io.Writer, processes []model.DetachedProcessInfo) error {
	if len(processes) == 0 {
		_, err := fmt.Fprintln(w, "no recorded processes")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tPID\tREMAINING\tPATH\tCOMMAND")
	for _, p := range processes {
		remaining := (time.Duration(p.RemainingMs) * time.Millisecond).Round(time.Second)
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", p.Port, p.PID, remaining, p.Path, p.Command)
	}
	return tw.Flush()
}

