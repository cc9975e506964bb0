package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchStatus re-prints the live status whenever the lock record changes,
// until interrupted. The lock file's parent directory is watched because
// the record is rewritten in place on every transition.
func watchStatus(cmd *cobra.Command, lockPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(lockPath)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Name != lockPath {
				continue
			}
			if ev.Op&fsnotify.Remove != 0 {
				fmt.Println("idle")
				continue
			}
			printStatus(lockPath)
		case err := <-watcher.Errors:
			fmt.Fprintln(os.Stderr, err)
		case <-ctx.Done():
			return nil
		}
	}
}
