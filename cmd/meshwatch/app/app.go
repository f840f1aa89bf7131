package app

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/icpmesh/meshwatch/cmd/meshwatch/app/options"
	"github.com/icpmesh/meshwatch/internal/engine"
	"github.com/icpmesh/meshwatch/internal/server"
	"github.com/icpmesh/meshwatch/internal/transport"
	"github.com/icpmesh/meshwatch/pkg/app"
	"github.com/icpmesh/meshwatch/pkg/log"
	"github.com/icpmesh/meshwatch/pkg/mqtt"
)

const (
	commandName = "meshwatch"
	commandDesc = `Meshwatch watches a mesh radio network: it ingests telemetry over the
gateway's MQTT uplink, maintains per-node state and derived health, fires
alerts, exchanges status broadcasts with other nodes, and persists history.`
)

// NewApp builds the meshwatch application.
func NewApp() *app.App {
	opts := options.NewMeshwatchOptions()
	application := app.NewApp(
		commandName,
		"Watch and alert on a mesh radio network",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)

	application.AddCommand(newNodesCommand(opts))
	return application
}

func run(opts *options.MeshwatchOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Flush()

		ctx := app.SetupSignalContext()

		client, err := mqtt.NewClient(opts.MqttOptions.ToClientConfig())
		if err != nil {
			return fmt.Errorf("failed to create mqtt client: %w", err)
		}

		gateway, err := transport.NewMQTTGateway(transport.MQTTGatewayConfig{
			Client:    client,
			TopicRoot: opts.MqttOptions.TopicRoot,
			Channel:   opts.MqttOptions.Channel,
			GatewayID: opts.EngineOptions.LocalID,
		})
		if err != nil {
			return fmt.Errorf("failed to create mesh transport: %w", err)
		}

		facade, err := engine.New(opts.Config(), gateway)
		if err != nil {
			return fmt.Errorf("failed to create engine: %w", err)
		}

		api := server.New(opts.HttpOptions, facade)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return facade.Run(gctx) })
		g.Go(func() error { return api.Start(gctx) })

		return g.Wait()
	}
}
