package toolserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/opsbridge/opsbridge/pkg/incident"
	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/opsbridge/opsbridge/pkg/session"
	"github.com/stretchr/testify/require"
)

func newFactory() *Factory {
	return NewFactory(incident.NewStore(1), logger.VoidLogger())
}

func TestQueryLogsTool(t *testing.T) {
	f := newFactory()

	res, structured, err := f.queryLogs(context.Background(), nil, QueryLogsArgs{Limit: 3})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	result, ok := structured.(QueryLogsResult)
	require.True(t, ok)
	require.Equal(t, 3, result.Count)
	require.Len(t, result.Entries, 3)
}

func TestQueryLogsDefaultLimit(t *testing.T) {
	f := newFactory()

	_, structured, err := f.queryLogs(context.Background(), nil, QueryLogsArgs{})
	require.NoError(t, err)
	require.Equal(t, defaultLogLimit, structured.(QueryLogsResult).Count)
}

func TestListAlertsTool(t *testing.T) {
	f := newFactory()

	_, structured, err := f.listAlerts(context.Background(), nil, ListAlertsArgs{Severity: "critical"})
	require.NoError(t, err)
	for _, a := range structured.(ListAlertsResult).Alerts {
		require.Equal(t, incident.SeverityCritical, a.Severity)
	}

	_, _, err = f.listAlerts(context.Background(), nil, ListAlertsArgs{Severity: "bogus"})
	require.ErrorContains(t, err, "unknown severity")
}

func TestAckAlertTool(t *testing.T) {
	f := newFactory()

	_, structured, err := f.listAlerts(context.Background(), nil, ListAlertsArgs{})
	require.NoError(t, err)
	alerts := structured.(ListAlertsResult).Alerts
	require.NotEmpty(t, alerts)

	_, acked, err := f.ackAlert(context.Background(), nil, AckAlertArgs{AlertID: alerts[0].ID})
	require.NoError(t, err)
	require.True(t, acked.(incident.Alert).Acked)

	_, _, err = f.ackAlert(context.Background(), nil, AckAlertArgs{})
	require.ErrorContains(t, err, "alertId is required")
}

func TestCreateTicketTool(t *testing.T) {
	f := newFactory()

	_, structured, err := f.createTicket(context.Background(), nil, CreateTicketArgs{
		Title:    "checkout failing",
		Severity: "critical",
	})
	require.NoError(t, err)

	ticket := structured.(incident.Ticket)
	require.NotEmpty(t, ticket.ID)
	require.Equal(t, incident.SeverityCritical, ticket.Severity)

	// Severity defaults to warning.
	_, structured, err = f.createTicket(context.Background(), nil, CreateTicketArgs{Title: "t"})
	require.NoError(t, err)
	require.Equal(t, incident.SeverityWarning, structured.(incident.Ticket).Severity)
}

func TestSendNotificationTool(t *testing.T) {
	f := newFactory()

	_, structured, err := f.sendNotification(context.Background(), nil, SendNotificationArgs{
		Channel: "#incidents",
		Message: "paging",
	})
	require.NoError(t, err)
	require.NotEmpty(t, structured.(incident.Notification).ID)

	_, _, err = f.sendNotification(context.Background(), nil, SendNotificationArgs{Channel: "#x"})
	require.ErrorContains(t, err, "message is required")
}

// forward decodes raw into a message, forwards it, and returns the response.
func forward(t *testing.T, b *session.Bridge, raw string) *jsonrpc.Response {
	t.Helper()
	msg, err := jsonrpc.DecodeMessage([]byte(raw))
	require.NoError(t, err)

	resp, err := b.Forward(context.Background(), msg)
	require.NoError(t, err)
	if resp == nil {
		return nil
	}
	r, ok := resp.(*jsonrpc.Response)
	require.True(t, ok)
	return r
}

func TestSessionHandshakeAndToolCall(t *testing.T) {
	f := newFactory()
	bridge := session.NewBridge("test-session")

	ss, err := f.NewSession(context.Background(), bridge)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()

	resp := forward(t, bridge, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`)
	require.NoError(t, resp.Error)

	var init struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	require.Equal(t, serverName, init.ServerInfo.Name)

	require.Nil(t, forward(t, bridge, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))

	resp = forward(t, bridge, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.NoError(t, resp.Error)

	var tools struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &tools))

	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"query_logs", "list_alerts", "ack_alert", "create_ticket", "send_notification"} {
		require.True(t, names[want], "missing tool %s", want)
	}

	resp = forward(t, bridge, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_alerts","arguments":{}}}`)
	require.NoError(t, resp.Error)
	require.Contains(t, string(resp.Result), "firing alerts")
}

func TestEphemeralSessionSkipsHandshake(t *testing.T) {
	f := newFactory()
	bridge := session.NewBridge("")

	ss, err := f.NewEphemeralSession(context.Background(), bridge, "2025-03-26")
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()

	// No initialize first:  the pre-filled state lets the call through.
	resp := forward(t, bridge, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"query_logs","arguments":{"limit":1}}}`)
	require.NoError(t, resp.Error)
	require.Contains(t, string(resp.Result), "log entries")
}

// Compile-time check that the bridge satisfies the SDK transport contract.
var _ mcp.Transport = (*session.Bridge)(nil)
