// Package runbook drives a scripted incident response against a gateway:
// it walks responder roles in order (triage, investigation, remediation,
// report) over an MCP client connection and renders a narrative transcript.
package runbook

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/opsbridge/opsbridge/pkg/logger"
)

// Caller invokes one tool and returns its text output.  The production
// implementation wraps an MCP client session;  tests substitute stubs.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Dial connects an MCP client to the gateway endpoint.  The standalone
// event stream is disabled:  the runbook only ever calls tools.
func Dial(ctx context.Context, endpoint string) (Caller, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "opsbridge-runbook",
		Version: "0.1.0",
	}, nil)

	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:             endpoint,
		DisableStandaloneSSE: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", endpoint, err)
	}
	return &mcpCaller{session: cs}, nil
}

type mcpCaller struct {
	session *mcp.ClientSession
}

func (c *mcpCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	out := strings.Join(texts, "\n")

	if res.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, out)
	}
	return out, nil
}

func (c *mcpCaller) Close() error {
	return c.session.Close()
}

// Step is one tool invocation performed on behalf of a responder role.
type Step struct {
	Role string
	Tool string
	Args map[string]any
}

// StepResult records a step's outcome.
type StepResult struct {
	Step
	Output string
	Err    string
}

// Report is the full transcript of one runbook execution.
type Report struct {
	Incident   string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepResult
}

// Failed reports whether any step errored.
func (r *Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != "" {
			return true
		}
	}
	return false
}

// steps returns the responder sequence for the given incident.
func steps(incident string) []Step {
	return []Step{
		{
			Role: "triage",
			Tool: "list_alerts",
			Args: map[string]any{"severity": "critical"},
		},
		{
			Role: "investigation",
			Tool: "query_logs",
			Args: map[string]any{"level": "error", "limit": 10},
		},
		{
			Role: "remediation",
			Tool: "create_ticket",
			Args: map[string]any{"title": incident, "severity": "critical"},
		},
		{
			Role: "report",
			Tool: "send_notification",
			Args: map[string]any{
				"channel": "#incidents",
				"message": fmt.Sprintf("runbook completed for incident: %s", incident),
			},
		},
	}
}

// Driver executes the runbook sequence against a Caller.
type Driver struct {
	caller Caller
	log    logger.Logger
}

func NewDriver(caller Caller, log logger.Logger) *Driver {
	if log == nil {
		log = logger.VoidLogger()
	}
	return &Driver{caller: caller, log: log}
}

// Run executes every step in order.  A failed step is recorded in the
// report and does not halt the sequence;  later roles may still be useful.
func (d *Driver) Run(ctx context.Context, incident string) (*Report, error) {
	report := &Report{
		Incident:  incident,
		StartedAt: time.Now().UTC(),
	}

	for _, step := range steps(incident) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		d.log.Info("runbook step", "role", step.Role, "tool", step.Tool)

		result := StepResult{Step: step}
		out, err := d.caller.CallTool(ctx, step.Tool, step.Args)
		if err != nil {
			result.Err = err.Error()
			d.log.Warn("runbook step failed", "role", step.Role, "tool", step.Tool, "error", err)
		} else {
			result.Output = out
		}
		report.Steps = append(report.Steps, result)
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

var reportTemplate = template.Must(template.New("report").Parse(`INCIDENT RESPONSE: {{.Incident}}
started {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}
{{range .Steps}}
== {{.Role}} ({{.Tool}}) ==
{{- if .Err}}
FAILED: {{.Err}}
{{- else}}
{{.Output}}
{{- end}}
{{end}}
finished {{.FinishedAt.Format "2006-01-02 15:04:05 MST"}}{{if .Failed}} WITH FAILURES{{end}}
`))

// Render writes the report transcript as text.
func Render(w io.Writer, report *Report) error {
	return reportTemplate.Execute(w, report)
}
