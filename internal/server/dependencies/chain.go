package dependencies

import (
	"context"

	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/chain"
)

func NewChainClient(lc fx.Lifecycle, cfg chain.Config) (chain.Client, error) {
	client, err := chain.Dial(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if closer, ok := client.(interface{ Close() }); ok {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				closer.Close()
				return nil
			},
		})
	}

	return client, nil
}

func NewSessionManager(client chain.Client, cfg chain.Config) (chain.SessionManager, error) {
	return chain.NewSessionManager(client, cfg.SessionManager)
}
