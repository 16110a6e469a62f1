package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"pylon/internal/apiadaptor"
	"pylon/internal/config"
	"pylon/internal/eventbus"
	"pylon/internal/pylonctx"
	"pylon/internal/rpcmgr"
	"pylon/internal/slotmgr"
	"pylon/pkg/logging"
)

// agentCmd exposes a running pylon cluster over MCP stdio: it joins the
// cluster's RPC and event transports as a lightweight peer and serves the
// call_rpc/run_slot tools to the connected MCP client.
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve the cluster's RPC catalog over MCP stdio",
	Args:  cobra.NoArgs,
	RunE:  runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	// MCP stdio owns stdout; logs must go to stderr only.
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	settings, err := config.Load()
	if err != nil {
		logging.Error("Pylon", err, "cannot load settings")
		return err
	}

	pctx := pylonctx.New(config.EnvDefault("NODE_NAME", "pylon-agent"))
	bus := eventbus.New(pctx, eventbus.SelectTransport(eventbus.Settings{
		RabbitMQ: amqpConfig(settings.Events.RabbitMQ, pctx.NodeName()),
		Redis:    redisConfig(settings.Events.Redis),
		SocketIO: socketIOConfig(settings.Events.SocketIO),
	}), eventbus.JSONCodec{})
	defer bus.Close()

	rpcMgr, err := rpcmgr.New(pctx, eventbus.SelectTransport(eventbus.Settings{
		RabbitMQ: amqpConfig(settings.RPC.RabbitMQ, pctx.NodeName()),
		Redis:    redisConfig(settings.RPC.Redis),
		SocketIO: socketIOConfig(settings.RPC.SocketIO),
	}), nil)
	if err != nil {
		return err
	}
	defer rpcMgr.Close()

	slots := slotmgr.New(pctx, bus, rpcMgr)
	return apiadaptor.New(pctx.NodeName(), rootCmd.Version, rpcMgr, slots).ServeStdio()
}

func amqpConfig(s *config.AMQPSettings, nodeName string) *eventbus.AMQPConfig {
	if s == nil {
		return nil
	}
	return &eventbus.AMQPConfig{URL: s.URL, Exchange: s.Exchange, NodeName: nodeName}
}

func redisConfig(s *config.RedisSettings) *eventbus.RedisConfig {
	if s == nil {
		return nil
	}
	port := s.Port
	if port == 0 {
		port = 6379
	}
	return &eventbus.RedisConfig{
		Address:  s.Host + ":" + strconv.Itoa(port),
		Password: s.Password,
		DB:       s.DB,
		Channel:  "pylon_events",
	}
}

func socketIOConfig(s *config.SocketIOEndpoint) *eventbus.SocketIOConfig {
	if s == nil {
		return nil
	}
	return &eventbus.SocketIOConfig{URL: s.URL}
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
