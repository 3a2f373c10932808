package observability

import (
	"context"
	"time"

	"github.com/talonhq/talon/pkg/gateway"
)

// instrumentedGateway wraps a gateway with call metrics.
type instrumentedGateway struct {
	inner gateway.Gateway
}

// InstrumentGateway wraps gw so every Generate call is recorded.
func InstrumentGateway(gw gateway.Gateway) gateway.Gateway {
	return &instrumentedGateway{inner: gw}
}

func (g *instrumentedGateway) Generate(ctx context.Context, prompt string, opts ...gateway.Option) string {
	start := time.Now()
	reply := g.inner.Generate(ctx, prompt, opts...)
	RecordGatewayCall(g.inner.Name(), !gateway.IsError(reply), time.Since(start))
	return reply
}

func (g *instrumentedGateway) Name() string { return g.inner.Name() }
