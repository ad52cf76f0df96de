package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "2006-01-02 15:04:05"

type projectRow struct {
	status       string
	scriptStatus string
	updated      string
}

type ConsoleSink struct {
	writer io.Writer
	format string // "text", "ndjson", "table"
	mu     sync.Mutex

	// latest project.status per project, in first-seen order
	order []string
	rows  map[string]projectRow
}

func NewConsoleSink(w io.Writer, format string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	return &ConsoleSink{
		writer: w,
		format: format,
		rows:   make(map[string]projectRow),
	}
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := v.(Event)
	if !ok {
		return nil
	}

	switch s.format {
	case "ndjson":
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flush(s.writer)
	case "text":
		if e.Type == EventProjectStatus {
			if !s.remember(e) {
				return nil
			}
			return s.writeProjectLine(e)
		}
		return s.writeLifecycleLine(e)
	case "table":
		switch e.Type {
		case EventProjectStatus:
			s.remember(e)
			return nil
		case EventTickFinished:
			return s.renderTable()
		default:
			return s.writeLifecycleLine(e)
		}
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

// remember records e and reports whether the project's statuses changed.
func (s *ConsoleSink) remember(e Event) bool {
	prev, seen := s.rows[e.Project]
	if !seen {
		s.order = append(s.order, e.Project)
	}
	row := projectRow{status: e.Status, scriptStatus: e.ScriptStatus, updated: e.Time.Format(timeLayout)}
	s.rows[e.Project] = row
	return !seen || prev.status != row.status || prev.scriptStatus != row.scriptStatus
}

func (s *ConsoleSink) writeProjectLine(e Event) error {
	c := scriptStatusColor(e.ScriptStatus)
	if _, err := fmt.Fprintf(s.writer, "[%s] %s | Status: %s | Script Status: ", e.Time.Format(timeLayout), e.Project, e.Status); err != nil {
		return err
	}
	if _, err := c.Fprintln(s.writer, e.ScriptStatus); err != nil {
		return err
	}
	return flush(s.writer)
}

func (s *ConsoleSink) writeLifecycleLine(e Event) error {
	msg := e.Message
	if msg == "" {
		switch e.Type {
		case EventIssueCreated:
			msg = fmt.Sprintf("Created GitHub issue for %s: %s", e.Project, e.URL)
		case EventTickFinished:
			return nil
		default:
			msg = e.Type
		}
	}

	var err error
	switch {
	case e.Type == EventLaunchRestarting:
		_, err = color.New(color.FgYellow).Fprintln(s.writer, msg)
	case e.Type == EventLaunchStopped && e.ExitCode != nil && *e.ExitCode != 0:
		_, err = color.New(color.FgRed).Fprintln(s.writer, msg)
	default:
		_, err = fmt.Fprintln(s.writer, msg)
	}
	if err != nil {
		return err
	}
	return flush(s.writer)
}

func (s *ConsoleSink) renderTable() error {
	if len(s.order) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(s.writer)
	table.Header("Project", "Status", "Script Status", "Last Update")
	for _, name := range s.order {
		row := s.rows[name]
		if err := table.Append(name, row.status, row.scriptStatus, row.updated); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	return flush(s.writer)
}

func scriptStatusColor(status string) *color.Color {
	switch {
	case status == "Running":
		return color.New(color.FgGreen)
	case strings.HasPrefix(status, "Crashed"), strings.HasPrefix(status, "Failed"), status == "Startup Failure":
		return color.New(color.FgRed)
	case strings.HasPrefix(status, "Stopped"), strings.HasPrefix(status, "Starting"):
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format != "text" && s.format != "ndjson" && s.format != "table" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
