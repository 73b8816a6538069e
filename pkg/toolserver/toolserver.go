// Package toolserver builds the protocol handlers the gateway hands each
// client session:  an MCP server exposing incident-response tools backed by
// the incident store.  Every session gets its own server instance so
// per-session protocol state never leaks between clients.
package toolserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/opsbridge/opsbridge/pkg/incident"
	"github.com/opsbridge/opsbridge/pkg/logger"
)

const (
	serverName    = "opsbridge"
	serverTitle   = "Opsbridge Incident Gateway"
	serverVersion = "0.1.0"
)

// Factory creates protocol handlers bound to the shared incident store.
type Factory struct {
	store *incident.Store
	log   logger.Logger
}

func NewFactory(store *incident.Store, log logger.Logger) *Factory {
	if log == nil {
		log = logger.VoidLogger()
	}
	return &Factory{store: store, log: log}
}

// NewSession connects a fresh server to the given transport.  The returned
// session expects the client to perform the initialize handshake itself.
func (f *Factory) NewSession(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return f.newServer().Connect(ctx, t, nil)
}

// NewEphemeralSession connects a fresh server whose handshake state is
// pre-filled, so a lone tool call can be served without the client ever
// initializing.  Used for the one-shot request path.
func (f *Factory) NewEphemeralSession(ctx context.Context, t mcp.Transport, protocolVersion string) (*mcp.ServerSession, error) {
	state := &mcp.ServerSessionState{
		InitializeParams: &mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
		},
		InitializedParams: &mcp.InitializedParams{},
		LogLevel:          "info",
	}
	return f.newServer().Connect(ctx, t, &mcp.ServerSessionOptions{State: state})
}

func (f *Factory) newServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
		Title:   serverTitle,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_logs",
		Description: "Query service logs, newest first. Parameters: service (optional string - filter to one service), level (optional string - info, warn, or error), limit (optional int - maximum entries, default 20)",
	}, f.queryLogs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_alerts",
		Description: "List firing alerts, most recent first. Parameters: severity (optional string - critical, warning, or info)",
	}, f.listAlerts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ack_alert",
		Description: "Acknowledge a firing alert. Parameters: alertId (required string - the alert ID from list_alerts)",
	}, f.ackAlert)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_ticket",
		Description: "Create an incident ticket. Parameters: title (required string), body (optional string), severity (optional string - critical, warning, or info, default warning)",
	}, f.createTicket)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_notification",
		Description: "Send a notification to a channel. Parameters: channel (required string - e.g. '#incidents'), message (required string)",
	}, f.sendNotification)

	return server
}

// QueryLogsArgs represents the arguments for the query_logs tool
type QueryLogsArgs struct {
	Service string `json:"service,omitempty"`
	Level   string `json:"level,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// QueryLogsResult represents the result of the query_logs tool
type QueryLogsResult struct {
	Entries []incident.LogEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// ListAlertsArgs represents the arguments for the list_alerts tool
type ListAlertsArgs struct {
	Severity string `json:"severity,omitempty"`
}

// ListAlertsResult represents the result of the list_alerts tool
type ListAlertsResult struct {
	Alerts []incident.Alert `json:"alerts"`
	Count  int              `json:"count"`
}

// AckAlertArgs represents the arguments for the ack_alert tool
type AckAlertArgs struct {
	AlertID string `json:"alertId"`
}

// CreateTicketArgs represents the arguments for the create_ticket tool
type CreateTicketArgs struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// SendNotificationArgs represents the arguments for the send_notification tool
type SendNotificationArgs struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

const defaultLogLimit = 20

func (f *Factory) queryLogs(ctx context.Context, req *mcp.CallToolRequest, args QueryLogsArgs) (*mcp.CallToolResult, any, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	entries, err := f.store.QueryLogs(ctx, incident.LogQuery{
		Service: args.Service,
		Level:   args.Level,
		Limit:   limit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("querying logs: %w", err)
	}

	result := QueryLogsResult{Entries: entries, Count: len(entries)}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, fmt.Sprintf("%d log entries", len(entries)))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s [%s] %s: %s",
			e.Timestamp.Format("15:04:05"), e.Level, e.Service, e.Message))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: strings.Join(lines, "\n")},
		},
	}, result, nil
}

func (f *Factory) listAlerts(ctx context.Context, req *mcp.CallToolRequest, args ListAlertsArgs) (*mcp.CallToolResult, any, error) {
	var sev incident.Severity
	if args.Severity != "" {
		var err error
		if sev, err = incident.ParseSeverity(args.Severity); err != nil {
			return nil, nil, err
		}
	}

	alerts, err := f.store.ListAlerts(ctx, sev)
	if err != nil {
		return nil, nil, fmt.Errorf("listing alerts: %w", err)
	}

	result := ListAlertsResult{Alerts: alerts, Count: len(alerts)}

	lines := make([]string, 0, len(alerts)+1)
	lines = append(lines, fmt.Sprintf("%d firing alerts", len(alerts)))
	for _, a := range alerts {
		acked := ""
		if a.Acked {
			acked = " (acked)"
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s: %s%s", a.ID, a.Severity, a.Service, a.Summary, acked))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: strings.Join(lines, "\n")},
		},
	}, result, nil
}

func (f *Factory) ackAlert(ctx context.Context, req *mcp.CallToolRequest, args AckAlertArgs) (*mcp.CallToolResult, any, error) {
	if args.AlertID == "" {
		return nil, nil, fmt.Errorf("alertId is required")
	}

	alert, err := f.store.AckAlert(ctx, args.AlertID)
	if err != nil {
		return nil, nil, err
	}

	f.log.Info("alert acknowledged", "alert_id", alert.ID, "service", alert.Service)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Alert %s acknowledged", alert.ID)},
		},
	}, alert, nil
}

func (f *Factory) createTicket(ctx context.Context, req *mcp.CallToolRequest, args CreateTicketArgs) (*mcp.CallToolResult, any, error) {
	sev := incident.SeverityWarning
	if args.Severity != "" {
		var err error
		if sev, err = incident.ParseSeverity(args.Severity); err != nil {
			return nil, nil, err
		}
	}

	ticket, err := f.store.CreateTicket(ctx, args.Title, args.Body, sev)
	if err != nil {
		return nil, nil, err
	}

	f.log.Info("ticket created", "ticket_id", ticket.ID, "severity", ticket.Severity)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Ticket %s created: %s", ticket.ID, ticket.Title)},
		},
	}, ticket, nil
}

func (f *Factory) sendNotification(ctx context.Context, req *mcp.CallToolRequest, args SendNotificationArgs) (*mcp.CallToolResult, any, error) {
	if args.Message == "" {
		return nil, nil, fmt.Errorf("message is required")
	}

	n, err := f.store.SendNotification(ctx, args.Channel, args.Message)
	if err != nil {
		return nil, nil, err
	}

	f.log.Info("notification sent", "notification_id", n.ID, "channel", n.Channel)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Notification %s delivered to %s", n.ID, n.Channel)},
		},
	}, n, nil
}
