package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/andreazorzetto/yh/highlight"
	"github.com/hashicorp/go-multierror"
	"github.com/hokaccha/go-prettyjson"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gopkg.in/yaml.v3"

	"github.com/looplj/agentpay/conf"
	"github.com/looplj/agentpay/internal/build"
	"github.com/looplj/agentpay/internal/log"
	"github.com/looplj/agentpay/internal/server"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			handleConfigCommand()
			return
		case "version", "--version", "-v":
			showVersion()
			return
		case "help", "--help", "-h":
			showHelp()
			return
		case "build-info":
			showBuildInfo()
			return
		}
	}

	startServer()
}

func showBuildInfo() {
	fmt.Println(build.GetBuildInfo())
}

type logger struct{}

func (l *logger) LogEvent(event fxevent.Event) {
	log.Debug(context.Background(), "fx event", log.Any("event", event))
}

func startServer() {
	config, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	server.Run(
		fx.WithLogger(func() fxevent.Logger {
			return &logger{}
		}),
		fx.Provide(func() conf.Config { return config }),
		fx.Invoke(func(lc fx.Lifecycle, server *server.Server) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						err := server.Run()
						if err != nil {
							log.Error(context.Background(), "server run error:", log.Cause(err))
							os.Exit(1)
						}
					}()

					return nil
				},
				OnStop: func(ctx context.Context) error {
					return server.Shutdown(ctx)
				},
			})
		}),
	)
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: agentpay config <preview|validate|get>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "validate":
		configValidate()
	case "get":
		configGet()
	default:
		fmt.Println("Usage: agentpay config <preview|validate|get>")
		os.Exit(1)
	}
}

func configPreview() {
	format := "yml"

	for i := 3; i < len(os.Args); i++ {
		if (os.Args[i] == "--format" || os.Args[i] == "-f") && i+1 < len(os.Args) {
			format = os.Args[i+1]
		}
	}

	config, err := conf.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var output string

	switch format {
	case "json":
		b, err := prettyjson.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	case "yml", "yaml":
		b, err := yaml.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output, err = highlight.Highlight(bytes.NewBuffer(b))
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unsupported format: %s\n", format)
		os.Exit(1)
	}

	fmt.Println(output)
}

func configValidate() {
	config, err := conf.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = config.Validate()
	if err == nil {
		fmt.Println("Configuration is valid!")
		return
	}

	fmt.Println("Configuration validation failed:")

	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			fmt.Printf("  - %s\n", e)
		}
	} else {
		fmt.Printf("  - %s\n", err)
	}

	os.Exit(1)
}

func configGet() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: agentpay config get <key>")
		fmt.Println("")
		fmt.Println("Available keys:")
		fmt.Println("  server.port        Server port number")
		fmt.Println("  server.name        Server name")
		fmt.Println("  db.dialect         Database dialect")
		fmt.Println("  chain.rpc_url      Chain RPC endpoint")
		fmt.Println("  chain.chain_id     Expected chain id")
		fmt.Println("  lock.mode          Grant lock mode (memory, redis)")
		fmt.Println("  ledger.timezone    Zone of the daily limit reset")
		os.Exit(1)
	}

	key := os.Args[3]

	config, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var value any

	switch key {
	case "server.port":
		value = config.APIServer.Port
	case "server.name":
		value = config.APIServer.Name
	case "server.debug":
		value = config.APIServer.Debug
	case "db.dialect":
		value = config.DB.Dialect
	case "chain.rpc_url":
		value = config.Chain.RPCURL
	case "chain.chain_id":
		value = config.Chain.ChainID
	case "lock.mode":
		value = config.Lock.Mode
	case "ledger.timezone":
		value = config.Ledger.Timezone
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	fmt.Println(value)
}

func showHelp() {
	fmt.Println("AgentPay delegated payment signer")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  agentpay                    Start the server (default)")
	fmt.Println("  agentpay config preview     Preview configuration")
	fmt.Println("  agentpay config validate    Validate configuration")
	fmt.Println("  agentpay config get <key>   Get a specific config value")
	fmt.Println("  agentpay version            Show version")
	fmt.Println("  agentpay build-info         Show build information")
	fmt.Println("  agentpay help               Show this help message")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -f, --format FORMAT         Output format for config preview (yml, json)")
}

func showVersion() {
	fmt.Println(build.Version)
}
