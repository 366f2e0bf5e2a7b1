package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/crewdeck/crewdeck/internal/model"
	"github.com/crewdeck/crewdeck/internal/snapshot"
)

const systemPrompt = `You are a project-management analyst. Given a project summary,
respond with ONLY a JSON object of this exact shape:
{"summary": string, "health": "green"|"yellow"|"red", "risks": [string], "recommendations": [string]}`

// Report is the fixed shape we expect back from the collaborator.
type Report struct {
	Summary         string   `json:"summary"`
	Health          string   `json:"health"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`

	// Unavailable is set when the collaborator responded with something we
	// could not parse. The other fields are zero; Message explains.
	Unavailable bool   `json:"unavailable,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Analyze summarizes the project and asks the collaborator for a report.
// A malformed response degrades to an Unavailable report, not an error;
// transport and authentication failures are real errors.
func (c *Client) Analyze(ctx context.Context, apiKey string, d snapshot.ProjectData) (*Report, error) {
	text, err := c.complete(ctx, apiKey, systemPrompt, buildPrompt(d))
	if err != nil {
		return nil, err
	}

	report, ok := parseReport(text)
	if !ok {
		c.logger.Warn().Str("project_id", d.Project.ID).Msg("unparseable analysis response, degrading")
		return &Report{Unavailable: true, Message: "AI analysis unavailable"}, nil
	}
	return report, nil
}

// parseReport extracts the JSON object from the response text, tolerating
// prose or fencing around it.
func parseReport(text string) (*Report, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var r Report
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return nil, false
	}
	if r.Summary == "" && r.Health == "" {
		return nil, false
	}
	return &r, true
}

// buildPrompt serializes the parts of the snapshot the analyst needs.
func buildPrompt(d snapshot.ProjectData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", d.Project.Name)
	if d.Project.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", d.Project.Description)
	}
	fmt.Fprintf(&b, "Members: %d\n", len(d.Members))

	now := time.Now().UnixMilli()
	counts := map[model.TaskStatus]int{}
	overdue := 0
	for _, t := range d.Tasks {
		counts[t.Status]++
		if t.DueDate > 0 && t.DueDate < now && t.Status != model.TaskDone {
			overdue++
		}
	}
	fmt.Fprintf(&b, "Tasks: %d total, %d todo, %d in progress, %d done\n",
		len(d.Tasks), counts[model.TaskTodo], counts[model.TaskInProgress], counts[model.TaskDone])

	b.WriteString("Open tasks:\n")
	for _, t := range d.Tasks {
		if t.Status == model.TaskDone {
			continue
		}
		fmt.Fprintf(&b, "- [%s/%s] %s (progress %d%%)\n", t.Status, t.Priority, t.Title, t.Progress)
	}
	if overdue > 0 {
		fmt.Fprintf(&b, "Overdue tasks: %d\n", overdue)
	}
	fmt.Fprintf(&b, "Recent activity entries: %d\n", len(d.Activities))
	return b.String()
}
