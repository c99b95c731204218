// Command bufproto runs the HTTP/WebSocket gateway server, wiring one of
// the bundled example applications.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"bufproto/examples/chat"
	"bufproto/internal/applog"
	"bufproto/internal/gateway"
	"bufproto/internal/gateway/gwmsg"
	"bufproto/internal/serverconfig"
	"bufproto/internal/sigs"
	"bufproto/internal/transport"
)

var apps = map[string]gwmsg.App{
	"chat": chat.App,
}

var (
	host       string
	port       int
	debug      bool
	configPath string
	appName    string
)

var rootCmd = &cobra.Command{
	Use:   "bufproto",
	Short: "HTTP/1.1 + WebSocket application gateway",
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the gateway, accepting connections and driving an application",
	Example: "  bufproto serve --app chat --host 0.0.0.0 --port 8000",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&port, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging (overrides config)")
	serveCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file path")
	serveCmd.Flags().StringVar(&appName, "app", "chat", "Bundled application to run")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	opt, err := serverconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if host != "" {
		opt.Host = host
	}
	if port != 0 {
		opt.Port = port
	}
	if debug {
		opt.Debug = true
		opt.Log.Level = string(applog.LevelDebug)
	}
	if err := opt.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, ok := apps[appName]
	if !ok {
		return fmt.Errorf("unknown app %q", appName)
	}

	if err := applog.SetOptions(opt.Log); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	log := applog.Std()

	addr := fmt.Sprintf("%s:%d", opt.Host, opt.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	log.Infof("bufproto: listening on %s (app=%s)", addr, appName)

	connCfg := gateway.Config{
		Log:             log,
		Debug:           opt.Debug,
		MaxHeaderBytes:  opt.MaxHeaderBytes,
		MaxFramePayload: opt.MaxFramePayload,
	}
	low, high := transport.DefaultLowWatermark, transport.DefaultHighWatermark
	if opt.HighWatermark > 0 {
		low, high = opt.LowWatermark, opt.HighWatermark
	}

	ctx, cancel := context.WithCancel(context.Background())
	go acceptLoop(ctx, ln, app, log, connCfg, low, high)

	<-sigs.Terminate()
	log.Infof("bufproto: shutting down")
	cancel()
	return ln.Close()
}

func acceptLoop(ctx context.Context, ln net.Listener, app gwmsg.App, log applog.Logger, cfg gateway.Config, low, high int) {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warnf("bufproto: accept error: %v", err)
				return
			}
		}
		go func() {
			conn := gateway.NewWithConfig(transport.NewConnWithWatermarks(c, low, high), app, cfg)
			conn.Serve(ctx)
		}()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
