package main

import (
	"context"
	"fmt"
	"os"

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
	"github.com/go-go-golems/mangiafuoco/pkg/turns"
)

var (
	configPath string
	profile    string
	model      string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "simple-streaming-turn <prompt>",
	Short: "Stream one assistant turn and print its events",
	Args:  cobra.ExactArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), args[0])
	},
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

	orch := orchestrator.New(orchestrator.WithEventSinks(sink))

	meta := turns.Metadata{}
	if model != "" {
		turns.KeyModel.Set(&meta, model)
	}
	messages := []chat.Message{
		chat.NewSystemMessage("You are a helpful assistant. Answer concisely."),
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

		msg, err := orch.RunTurn(ctx, provider, messages, meta, nil)
		if err != nil {
			return err
		}
		final = msg
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if final != nil {
		fmt.Printf("\n\n=== Final message ===\n%s\n", final.Content)
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&profile, "profile", "", "provider profile (default_provider when empty)")
	rootCmd.Flags().StringVar(&model, "model", "", "override the profile's model")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "verbose event router logging")

	cobra.CheckErr(rootCmd.Execute())
}
