package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/service"
)

const shortIDLength = 12

func main() {
	var rootCmd = &cobra.Command{
		Use:           "keep",
		Short:         "Content-addressed snapshots of a directory tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var debug bool
	var root string
	rootCmd.PersistentFlags().
		BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().
		StringVarP(&root, "root", "r", ".", "Directory tree to operate on")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.SetDebug(debug)
	}

	var interactive bool
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create an empty store for the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Init(cmd.Context(), root, interactive)
		},
	}
	initCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Ask for each config value")

	var snapshotCmd = &cobra.Command{
		Use:   "snapshot [message]",
		Short: "Record the current state of the tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var message string
			if len(args) == 1 {
				message = args[0]
			}
			return withService(cmd.Context(), root, func(srv *service.Service) error {
				snap, err := srv.Snapshot(cmd.Context(), message)
				if err != nil {
					return err
				}
				fmt.Println(snap.ID)
				return nil
			})
		},
	}

	var revertCmd = &cobra.Command{
		Use:   "revert <id>",
		Short: "Restore the tree to a snapshot, removing files it does not contain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), root, func(srv *service.Service) error {
				_, res, err := srv.Revert(cmd.Context(), args[0])
				for _, f := range res.Failed {
					logging.Errorf("Failed: %s", f)
				}
				return err
			})
		},
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), root, func(srv *service.Service) error {
				entries, err := srv.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf(
						"%s  %-14s  %5d files  %9s  %s\n",
						e.ID.Short(shortIDLength),
						humanize.Time(e.CreatedAt),
						e.FileCount,
						humanize.Bytes(uint64(e.TotalBytes)),
						e.Message,
					)
				}
				return nil
			})
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Show the files recorded in a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), root, func(srv *service.Service) error {
				id, m, err := srv.Show(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("snapshot %s\n", id)
				fmt.Printf("message  %s\n", m.Message)
				fmt.Printf("files    %d (%s)\n\n", len(m.Files), humanize.Bytes(uint64(m.TotalSize())))
				for _, e := range m.Files {
					fmt.Printf("%s  %9s  %s\n", e.Digest.Short(shortIDLength), humanize.Bytes(uint64(e.Size)), e.Path)
				}
				return nil
			})
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Take a snapshot whenever the tree settles after a change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withService(ctx, root, func(srv *service.Service) error {
				return srv.Watch(ctx)
			})
		},
	}

	rootCmd.AddCommand(initCmd, snapshotCmd, revertCmd, listCmd, showCmd, watchCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logging.Error("Command failed", err)
		os.Exit(1)
	}
}

func withService(ctx context.Context, root string, fn func(srv *service.Service) error) error {
	srv, err := service.NewService(ctx, root)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logging.Debugf("Could not close store: %s", err)
		}
	}()
	return fn(srv)
}
