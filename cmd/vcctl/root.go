package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voxelcast.ai/internal/command"
)

var (
	serverURL string
	timeout   time.Duration
	follow    bool
)

var rootCmd = &cobra.Command{
	Use:           "vcctl",
	Short:         "vcctl drives a voxelcast render server",
	Long:          `vcctl connects to a voxelcast server over websocket, sends one command line and prints the reply. With --follow it keeps printing status updates until the started session ends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://127.0.0.1:8080/v1/ws", "server websocket url")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and reply timeout")
	rootCmd.PersistentFlags().BoolVarP(&follow, "follow", "f", false, "stream status updates until the session ends")

	send := &cobra.Command{
		Use:   "send <command line...>",
		Short: "Send a raw command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLine(cmd, strings.Join(args, " "))
		},
	}
	send.Flags().SetInterspersed(false)
	rootCmd.AddCommand(send)
	for _, name := range []string{"image", "video", "stream", "setres", "undo", "stop", "sessions"} {
		rootCmd.AddCommand(lineCommand(name))
	}
}

// lineCommand maps a subcommand onto the server command of the same name.
// Arity is left to the server so usage messages stay in one place. Flags
// must precede positional arguments, which keeps negative coordinates intact.
func lineCommand(name string) *cobra.Command {
	usage, _ := command.Usage(name)
	c := &cobra.Command{
		Use:   strings.TrimPrefix(usage, "Usage: "),
		Short: "Send " + name,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLine(cmd, strings.Join(append([]string{name}, args...), " "))
		},
	}
	c.Flags().SetInterspersed(false)
	return c
}

func runLine(cmd *cobra.Command, line string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	c, err := dial(ctx, serverURL, follow)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel = context.WithTimeout(cmd.Context(), timeout)
	res, err := c.Run(ctx, line)
	cancel()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !res.OK {
		return fmt.Errorf("%s: %s", res.Code, res.Message)
	}
	if res.SessionID != "" {
		fmt.Fprintf(out, "%s [session %s]\n", res.Message, res.SessionID)
	} else {
		fmt.Fprintln(out, res.Message)
	}
	if !follow || res.SessionID == "" {
		return nil
	}

	last, err := c.Follow(cmd.Context(), res.SessionID, out)
	if err != nil {
		return err
	}
	if last.Phase == "failed" {
		return fmt.Errorf("session %s failed: %s", last.SessionID, last.Error)
	}
	return nil
}
