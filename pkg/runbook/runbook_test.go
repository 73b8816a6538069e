package runbook

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/stretchr/testify/require"
)

type stubCaller struct {
	calls []string
	fail  map[string]error
}

func (c *stubCaller) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.calls = append(c.calls, name)
	if err, ok := c.fail[name]; ok {
		return "", err
	}
	return fmt.Sprintf("%s output", name), nil
}

func (c *stubCaller) Close() error { return nil }

func TestRunSequencesRoles(t *testing.T) {
	caller := &stubCaller{}
	d := NewDriver(caller, logger.VoidLogger())

	report, err := d.Run(context.Background(), "checkout outage")
	require.NoError(t, err)
	require.False(t, report.Failed())

	require.Equal(t, []string{
		"list_alerts",
		"query_logs",
		"create_ticket",
		"send_notification",
	}, caller.calls)

	require.Len(t, report.Steps, 4)
	require.Equal(t, "triage", report.Steps[0].Role)
	require.Equal(t, "investigation", report.Steps[1].Role)
	require.Equal(t, "remediation", report.Steps[2].Role)
	require.Equal(t, "report", report.Steps[3].Role)

	// The remediation ticket carries the incident title.
	require.Equal(t, "checkout outage", report.Steps[2].Args["title"])
}

func TestRunContinuesPastFailures(t *testing.T) {
	caller := &stubCaller{
		fail: map[string]error{"query_logs": fmt.Errorf("store unavailable")},
	}
	d := NewDriver(caller, logger.VoidLogger())

	report, err := d.Run(context.Background(), "db outage")
	require.NoError(t, err)
	require.True(t, report.Failed())
	require.Len(t, report.Steps, 4)
	require.Contains(t, report.Steps[1].Err, "store unavailable")

	// Later roles still ran.
	require.Contains(t, caller.calls, "send_notification")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDriver(&stubCaller{}, logger.VoidLogger())
	report, err := d.Run(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, report.Steps)
}

func TestRender(t *testing.T) {
	caller := &stubCaller{
		fail: map[string]error{"create_ticket": fmt.Errorf("boom")},
	}
	d := NewDriver(caller, logger.VoidLogger())

	report, err := d.Run(context.Background(), "api outage")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, Render(buf, report))

	out := buf.String()
	require.Contains(t, out, "INCIDENT RESPONSE: api outage")
	require.Contains(t, out, "== triage (list_alerts) ==")
	require.Contains(t, out, "list_alerts output")
	require.Contains(t, out, "FAILED: boom")
	require.Contains(t, out, "WITH FAILURES")
}
