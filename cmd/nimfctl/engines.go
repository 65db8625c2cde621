package main

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nimf/internal/dbusctl"
	"nimf/internal/engine"
	"nimf/internal/ipc"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List the engines loaded by the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		var ids []string
		if useBus(cmd) {
			client, err := dbusctl.Dial()
			if err != nil {
				return err
			}
			defer client.Close()
			if ids, err = client.LoadedEngines(ctx); err != nil {
				return err
			}
		} else {
			client, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			if ids, err = client.LoadedEngineIDs(ctx); err != nil {
				return err
			}
		}

		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <engine-id>",
	Short: "Switch every input context to an engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if useBus(cmd) {
			client, err := dbusctl.Dial()
			if err != nil {
				return err
			}
			defer client.Close()
			return client.SetEngine(ctx, args[0])
		}

		client, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		// The socket reply carries no status, so check the id first.
		ids, err := client.LoadedEngineIDs(ctx)
		if err != nil {
			return err
		}
		if err := checkLoaded(ids, args[0]); err != nil {
			return err
		}
		return client.SetEngineByID(ctx, args[0])
	},
}

func checkLoaded(ids []string, id string) error {
	if !slices.Contains(ids, id) {
		return fmt.Errorf("%w: %s (loaded: %s)", engine.ErrUnknownEngine, id, strings.Join(ids, ", "))
	}
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print engine changes until interrupted",
	Long:  `watch registers as an agent on the socket (or listens for EngineChanged on the session bus with --bus) and prints each engine switch.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		show := func(engineID string) {
			fmt.Printf("%s\t%s\n", time.Now().Format(time.TimeOnly), engineID)
		}

		if useBus(cmd) {
			client, err := dbusctl.Dial()
			if err != nil {
				return err
			}
			defer client.Close()
			return client.WatchEngineChanged(ctx, show)
		}

		client, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		client.SetNotificationHandler(func(n ipc.Notification) {
			if n.Op == ipc.OpEngineChanged {
				show(n.EngineID)
			}
		})

		reqCtx, cancel := requestContext(cmd)
		defer cancel()
		if _, err := client.CreateContext(reqCtx, ipc.ContextAgent); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return fmt.Errorf("server went away: %w", client.Err())
		}
	},
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

func init() {
	rootCmd.AddCommand(enginesCmd, setCmd, watchCmd)
}
