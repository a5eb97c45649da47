package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/config"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/orchestrator"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/factory"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
	"github.com/go-go-golems/mangiafuoco/pkg/tools/mcp"
)

var (
	configPath  string
	profile     string
	maxRounds   int
	toolTimeout time.Duration
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "tool-calling-turn [prompt]",
	Short: "Run an assistant turn with local calculator tools and configured MCP servers",
	Args:  cobra.MaximumNArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := "What is (3 + 4) * 12? Use the calculator tools and show the result."
		if len(args) > 0 {
			prompt = args[0]
		}
		return run(cmd.Context(), prompt)
	},
}

type calcArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func newCalculatorBackend() (*tools.FuncBackend, error) {
	backend := tools.NewFuncBackend("calculator")
	if err := backend.RegisterFunc("add", "Add two numbers", func(in calcArgs) (float64, error) {
		return in.A + in.B, nil
	}); err != nil {
		return nil, err
	}
	if err := backend.RegisterFunc("multiply", "Multiply two numbers", func(in calcArgs) (float64, error) {
		return in.A * in.B, nil
	}); err != nil {
		return nil, err
	}
	return backend, nil
}

func run(ctx context.Context, prompt string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	providerCfg, err := cfg.Provider(profile)
	if err != nil {
		return err
	}
	provider, err := factory.New(providerCfg)
	if err != nil {
		return err
	}

	registry := tools.NewBackendRegistry()
	calculator, err := newCalculatorBackend()
	if err != nil {
		return err
	}
	if err := registry.Register(calculator); err != nil {
		return err
	}

	if len(cfg.MCPServers) > 0 {
		manager := mcp.NewManager("tool-calling-turn", "0.1.0")
		if err := cfg.RegisterServers(manager); err != nil {
			return err
		}
		for _, status := range manager.ConnectAll(ctx) {
			if status.State != mcp.StateConnected {
				log.Warn().Str("server", status.ID).Str("error", status.Error).Msg("mcp server not connected")
				continue
			}
			log.Info().Str("server", status.ID).Int("tools", status.ToolCount).Msg("mcp server connected")
			if err := registry.Register(mcp.NewBackend(manager, status.ID)); err != nil {
				return err
			}
		}
		defer func() {
			for _, id := range manager.IDs() {
				_, _ = manager.Disconnect(id)
			}
		}()
	}

	toolRouter := tools.NewRouter(registry)
	defs, err := toolRouter.ListTools(ctx, "")
	if err != nil {
		return err
	}
	log.Info().Int("tools", len(defs)).Msg("tool catalog assembled")

	routerOptions := []events.EventRouterOption{}
	if verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	sink := events.NewWatermillSink(router.Publisher, "chat")
	router.AddHandler("printer", "chat", events.TurnPrinterFunc("assistant", os.Stdout))

	aggregator := events.NewToolEventAggregator()
	router.AddEventHandler("aggregator", "chat", func(_ context.Context, ev events.Event) error {
		aggregator.Handle(ev)
		return nil
	})

	orch := orchestrator.New(
		orchestrator.WithRouter(toolRouter),
		orchestrator.WithEventSinks(sink),
		orchestrator.WithMaxRounds(maxRounds),
		orchestrator.WithToolTimeout(toolTimeout),
	)

	messages := []chat.Message{
		chat.NewSystemMessage("You are a helpful assistant with tools. Use them for any arithmetic."),
		chat.NewUserMessage(prompt),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var final *chat.Message
	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		msg, err := orch.RunTurn(ctx, provider, messages, nil, nil)
		if err != nil {
			return err
		}
		final = msg
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if lines := aggregator.Lines(); len(lines) > 0 {
		fmt.Println("\n\n=== Tool calls ===")
		for _, line := range lines {
			fmt.Println(line)
		}
	}
	if final != nil {
		fmt.Printf("\n=== Final message ===\n%s\n", final.Content)
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&profile, "profile", "", "provider profile (default_provider when empty)")
	rootCmd.Flags().IntVar(&maxRounds, "max-rounds", 10, "tool round cap per turn")
	rootCmd.Flags().DurationVar(&toolTimeout, "tool-timeout", 30*time.Second, "per tool call deadline")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "verbose event router logging")

	cobra.CheckErr(rootCmd.Execute())
}
