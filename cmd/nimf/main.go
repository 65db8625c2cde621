// nimf is the input method server.
//
// It loads the configured engines, listens for socket clients on the
// abstract address @nimf, serves XIM when an X display is reachable and
// exposes engine control as org.nimf.Server on the session bus.
//
//	nimf [-config path] [-debug]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "configuration file (default: platform config dir)")
	debug := flag.Bool("debug", false, "log at debug level regardless of the configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nimf %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(*configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nimf: %v\n", err)
		os.Exit(1)
	}
	if err := d.run(ctx); err != nil {
		d.logger.Error("server stopped", "error", err)
		d.close()
		os.Exit(1)
	}
	d.close()
}
