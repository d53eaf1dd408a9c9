package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/anymcp/anymcp/config"
	"github.com/anymcp/anymcp/internal/log"
	"github.com/anymcp/anymcp/manager"
)

// Exit codes per call outcome, so scripts can branch without parsing
// output.
const (
	exitOK        = 0
	exitToolError = 1
	exitRouting   = 2
	exitTransport = 3
	exitStartup   = 4
)

func main() {
	app := &cli.Command{
		Name:  "anymcp",
		Usage: "Manage MCP tool providers and dispatch tool calls",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Provider configuration file",
				Value:   defaultConfigPath,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			listCommand(),
			callCommand(),
			statusCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartup)
	}
}

// withManager loads configuration, starts the requested providers and
// guarantees ShutdownAll runs before returning, signal or not.
func withManager(ctx context.Context, cmd *cli.Command, only string, fn func(*manager.Manager, *config.File) error) error {
	log.InitLogger(cmd.Bool("debug"))
	logger := log.GetLogger()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitStartup)
	}

	mgr := manager.NewManager(cfg.Options(), logger)
	defer func() {
		// Detached context: shutdown must finish even after SIGINT
		// cancelled the command context.
		if err := mgr.ShutdownAll(context.Background()); err != nil {
			logger.Errorw("shutdown reported failures", "error", err)
		}
	}()

	if only != "" {
		pcfg, ok := cfg.Provider(only)
		if !ok {
			return cli.Exit(fmt.Sprintf("provider %q not in configuration", only), exitRouting)
		}
		if err := mgr.Start(ctx, pcfg); err != nil {
			return cli.Exit(err.Error(), exitStartup)
		}
	} else if err := mgr.StartAll(ctx, cfg.Providers); err != nil {
		// Partial startup is still usable; report and continue.
		logger.Warnw("some providers failed to start", "error", err)
	}

	return fn(mgr, cfg)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Start configured providers and list every advertised tool",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withManager(ctx, cmd, "", func(mgr *manager.Manager, _ *config.File) error {
				printTools(mgr.ListAllTools())
				return nil
			})
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Call a tool: anymcp call [--provider NAME] TOOL [JSON_ARGS]",
		ArgsUsage: "TOOL [JSON_ARGS]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Route to a specific provider (otherwise resolved by tool name)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return cli.Exit("call requires a tool name", exitRouting)
			}
			tool := cmd.Args().Get(0)
			args, err := parseArgs(cmd.Args().Get(1))
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid arguments: %v", err), exitRouting)
			}

			// With an explicit provider only that provider needs to run.
			return withManager(ctx, cmd, cmd.String("provider"), func(mgr *manager.Manager, _ *config.File) error {
				result := mgr.Call(ctx, cmd.String("provider"), tool, args)
				printResult(result)
				if code := exitCodeFor(result); code != exitOK {
					return cli.Exit(result.Message, code)
				}
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Start configured providers and report their health",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withManager(ctx, cmd, "", func(mgr *manager.Manager, _ *config.File) error {
				printStatus(mgr.Status())
				return nil
			})
		},
	}
}

func exitCodeFor(result *manager.CallResult) int {
	switch result.Status {
	case manager.CallSuccess:
		return exitOK
	case manager.CallToolError:
		return exitToolError
	case manager.CallRoutingError:
		return exitRouting
	case manager.CallTransportError:
		return exitTransport
	default:
		return exitTransport
	}
}
