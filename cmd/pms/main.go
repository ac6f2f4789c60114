// Command pms reads particulate matter and environmental sensors over a
// serial port and forwards the observations to the terminal, files,
// SQLite, MQTT or InfluxDB.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp(os.Stdout, os.Stderr)).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
