package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/pipeline"
	"github.com/ruteri/agent-launch-provisioner/registration"
	"github.com/urfave/cli/v2"
)

const (
	outputJSON = "json"
	outputText = "text"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(10)
	columnStyle  = lipgloss.NewStyle().Width(11)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

func validateOutput(cCtx *cli.Context) error {
	switch cCtx.String(flagOutput.Name) {
	case outputJSON, outputText:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q, expected json or text", cCtx.String(flagOutput.Name))
	}
}

type printer struct {
	out    io.Writer
	format string
}

func newPrinter(cCtx *cli.Context) *printer {
	return &printer{out: cCtx.App.Writer, format: cCtx.String(flagOutput.Name)}
}

func (p *printer) print(v any) error {
	if p.format == outputJSON {
		encoder := json.NewEncoder(p.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}

	var b strings.Builder
	switch v := v.(type) {
	case *interfaces.PipelineResult:
		writeResult(&b, v)
	case *pipeline.SwarmResult:
		writeSwarm(&b, v)
	case *interfaces.RegistrationRecord:
		writeRegistration(&b, v)
	case *interfaces.RemoteProcessStatus:
		writeProcesses(&b, []interfaces.RemoteProcessStatus{*v})
	case []interfaces.RemoteProcessStatus:
		writeProcesses(&b, v)
	case *TokenDeployment:
		line(&b, "token", v.TokenAddress)
		line(&b, "deployed", statusWord(v.Deployed, "yes", "no"))
	default:
		return fmt.Errorf("no text format for %T", v)
	}

	_, err := io.WriteString(p.out, b.String())
	return err
}

func line(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

func statusWord(ok bool, yes, no string) string {
	if ok {
		return successStyle.Render(yes)
	}
	return failureStyle.Render(no)
}

func stepStatus(status interfaces.StepStatus) string {
	switch status {
	case interfaces.StepSuccess:
		return successStyle.Render(string(status))
	case interfaces.StepFailed:
		return failureStyle.Render(string(status))
	default:
		return faintStyle.Render(string(status))
	}
}

func writeResult(b *strings.Builder, r *interfaces.PipelineResult) {
	line(b, "run", r.RunID)
	if r.Name != "" {
		line(b, "name", r.Name)
	}

	if p := r.Process; p != nil {
		line(b, "process", fmt.Sprintf("%s (%s)", p.Address, p.Status))
		if p.WalletAddress != "" {
			line(b, "wallet", p.WalletAddress)
		}
		if p.Digest != "" {
			line(b, "digest", p.Digest)
		}
		for _, s := range p.Secrets {
			if s.Applied() {
				line(b, "secret", s.Name+" "+successStyle.Render("set"))
			} else {
				line(b, "secret", s.Name+" "+failureStyle.Render("failed: "+s.Error))
			}
		}
	}

	for _, s := range r.Steps {
		value := columnStyle.Render(string(s.Step)) + stepStatus(s.Status)
		if s.Duration > 0 {
			value += " " + faintStyle.Render(s.Duration.Round(time.Millisecond).String())
		}
		if s.Error != "" {
			value += " " + s.Error
		}
		line(b, "step", value)
	}

	writeRegistration(b, r.Registration)

	if !r.Succeeded() {
		line(b, "error", failureStyle.Render(string(r.ErrorKind))+" "+r.Error)
	}
}

func writeRegistration(b *strings.Builder, rec *interfaces.RegistrationRecord) {
	if rec == nil {
		return
	}
	line(b, "token", rec.TokenID)
	if rec.TokenAddress != "" {
		line(b, "address", rec.TokenAddress)
	}
	if rec.ChainID != 0 {
		line(b, "chain", registration.ChainName(rec.ChainID))
	}
	line(b, "handoff", rec.HandoffLink)
}

func writeSwarm(b *strings.Builder, r *pipeline.SwarmResult) {
	for i, m := range r.Members {
		if i > 0 {
			b.WriteString("\n")
		}
		line(b, "member", m.Role)
		if m.Result != nil {
			writeResult(b, m.Result)
		}
		for _, s := range m.PeerSecrets {
			line(b, "peer", s.Name+" "+statusWord(s.Applied(), "set", "failed: "+s.Error))
		}
	}
}

func writeProcesses(b *strings.Builder, items []interfaces.RemoteProcessStatus) {
	if len(items) == 0 {
		b.WriteString(faintStyle.Render("no processes") + "\n")
		return
	}
	for _, item := range items {
		state := faintStyle.Render("pending")
		switch {
		case item.Running:
			state = successStyle.Render("running")
		case item.Compiled:
			state = successStyle.Render("compiled")
		}
		b.WriteString(item.Address + "  " + state + "  " + item.Name + "\n")
	}
}
