package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"activityd/internal/bridge"
)

var statusBrowserPID int32

// statusCmd probes the running daemon and summarizes local state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and storage status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Printf("config:    %s\n", resolveConfigPath())
	fmt.Printf("bridge:    %s\n", cfg.Bridge.ListenAddr)
	fmt.Printf("timeline:  %s\n", cfg.Timeline.DatabasePath)

	files, size := storageUsage(cfg.Storage.BaseDir)
	fmt.Printf("storage:   %s (%d files, %.1f MiB)\n",
		cfg.Storage.BaseDir, files, float64(size)/(1<<20))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(cfg.Bridge.ListenAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("daemon:    unreachable (%v)\n", err)
		return nil
	}
	defer conn.Close()

	client := bridge.NewClient(conn)
	resp, err := client.IsRegistered(ctx, &bridge.IsRegisteredRequest{BrowserPID: statusBrowserPID})
	if err != nil {
		fmt.Printf("daemon:    unreachable (%v)\n", err)
		return nil
	}
	fmt.Println("daemon:    running")
	if statusBrowserPID != 0 {
		fmt.Printf("bridge registration for pid %d: %v\n", statusBrowserPID, resp.Registered)
	}
	return nil
}

func storageUsage(baseDir string) (int, int64) {
	var files int
	var size int64
	_ = filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size
}
