package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ayusman/signboard/internal/app"
	"github.com/ayusman/signboard/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

func newRootCmd() *cobra.Command {
	v := config.New()

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the display hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	root := &cobra.Command{
		Use:           "signboard",
		Short:         "Signboard - WebSocket hub for display plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its settings from the standard flag set.
			return flag.CommandLine.Parse(nil)
		},
	}

	if err := config.RegisterFlags(v, root.PersistentFlags()); err != nil {
		panic(err)
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	if f := flag.Lookup("logtostderr"); f != nil {
		_ = f.Value.Set("true")
		f.DefValue = "true"
	}

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "signboard", version)
		},
	})
	return root
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	glog.Infof("signboard %s: plugins in %s, style at %s", version, cfg.PluginDir, cfg.StylePath)
	if err := a.Run(ctx); err != nil {
		glog.Errorf("server failed: %v", err)
		return err
	}
	return nil
}
