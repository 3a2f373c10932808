package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonhq/talon/pkg/gateway"
)

func TestInitMetricsIdempotent(t *testing.T) {
	InitMetrics()
	assert.NotPanics(t, InitMetrics)
}

func TestMetricsExposed(t *testing.T) {
	InitMetrics()

	RecordCommand("conversation", true, 120*time.Millisecond)
	RecordGatewayCall("mock", false, 40*time.Millisecond)
	RecordRetrievalQuery("preferences")
	RecordRuleFired()
	RecordCorrection("replayed")
	RecordConsolidation("stored")
	SetBufferTurns(6)

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"talon_commands_total",
		"talon_gateway_calls_total",
		"talon_retrieval_queries_total",
		"talon_rules_fired_total",
		"talon_corrections_total",
		"talon_consolidations_total",
		"talon_buffer_turns",
	} {
		assert.Contains(t, string(body), name)
	}
}

func TestInstrumentGatewayPassthrough(t *testing.T) {
	InitMetrics()

	mock := gateway.NewMock()
	mock.Enqueue("hello")
	gw := InstrumentGateway(mock)

	assert.Equal(t, "hello", gw.Generate(context.Background(), "hi"))
	assert.Equal(t, mock.Name(), gw.Name())
}
