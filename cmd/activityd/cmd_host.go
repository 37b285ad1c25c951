package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"activityd/internal/nativemsg"
)

var hostBrowserPID int32

// hostCmd is launched by the browser as the extension's native-messaging
// host. stdin/stdout carry length-prefixed JSON frames; everything the
// extension pushes is forwarded to the daemon's bridge hub.
var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run as the browser's native-messaging host",
	Long: `Bridges the extension's stdio protocol to the daemon. The browser launches
this process itself (per its native messaging manifest); it registers with
the bridge hub under the browser's process id and exits when the extension
closes the stdio channel.`,
	RunE: runHost,
}

func runHost(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host := nativemsg.NewHost(nativemsg.HostOptions{
		BrowserPID:     hostBrowserPID,
		BridgeAddr:     cfg.Native.BridgeAddr,
		ListenAddr:     cfg.Native.ListenAddr,
		RequestTimeout: cfg.GetRequestTimeout(),
	})
	return host.Run(ctx, os.Stdin, os.Stdout)
}
