// Package reporter formats case results as text, JSON or JUnit XML.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/irctest/irctest-go/internal/testharness/engine"
)

// Reporter formats and outputs case results.
type Reporter interface {
	// ReportSuite reports results for a whole run.
	ReportSuite(result *engine.SuiteResult)

	// ReportTest reports results for a single case.
	ReportTest(result *engine.TestResult)
}

// TextReporter outputs human-readable text reports.
type TextReporter struct {
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a new text reporter. In verbose mode the logs of
// every case are printed, otherwise only those of failed cases.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{
		writer:  w,
		verbose: verbose,
	}
}

// ReportSuite reports suite results in text format.
func (r *TextReporter) ReportSuite(result *engine.SuiteResult) {
	fmt.Fprintf(r.writer, "\n=== Suite: %s ===\n", result.SuiteName)
	fmt.Fprintf(r.writer, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(r.writer, "\n")

	for _, tr := range result.Results {
		r.ReportTest(tr)
	}

	fmt.Fprintf(r.writer, "\n--- Summary ---\n")
	fmt.Fprintf(r.writer, "Total:   %d\n", len(result.Results))
	fmt.Fprintf(r.writer, "Passed:  %d\n", result.PassCount)
	fmt.Fprintf(r.writer, "Failed:  %d\n", result.FailCount)
	fmt.Fprintf(r.writer, "Skipped: %d\n", result.SkipCount)

	if rate, ok := passRate(result); ok {
		fmt.Fprintf(r.writer, "Pass Rate: %.1f%%\n", rate)
	}
}

// ReportTest reports a single case result in text format.
func (r *TextReporter) ReportTest(result *engine.TestResult) {
	c := result.Case

	var status string
	switch result.Status {
	case engine.StatusSkipped:
		status = "SKIP"
	case engine.StatusPassed:
		status = "PASS"
	default:
		status = "FAIL"
	}

	fmt.Fprintf(r.writer, "[%s] %s - %s (%s)\n",
		status, c.ID, c.Name, result.Duration.Round(time.Millisecond))

	if result.Skipped() && result.SkipReason != "" {
		fmt.Fprintf(r.writer, "       Skip reason: %s\n", result.SkipReason)
	}

	if result.Status == engine.StatusFailed && result.Error != nil {
		fmt.Fprintf(r.writer, "       Error: %v\n", result.Error)
	}

	if r.verbose || result.Status == engine.StatusFailed {
		for _, line := range result.Logs {
			fmt.Fprintf(r.writer, "    %s\n", line)
		}
	}
}

func passRate(result *engine.SuiteResult) (float64, bool) {
	total := result.PassCount + result.FailCount
	if total == 0 {
		return 0, false
	}
	return float64(result.PassCount) / float64(total) * 100, true
}

// JSONReporter outputs JSON-formatted reports.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

// JSONSuiteResult is the JSON representation of suite results.
type JSONSuiteResult struct {
	SuiteName string           `json:"suite_name"`
	Duration  string           `json:"duration"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	PassRate  float64          `json:"pass_rate"`
	Tests     []JSONTestResult `json:"tests"`
}

// JSONTestResult is the JSON representation of a case result.
type JSONTestResult struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind,omitempty"`
	Specs      []string `json:"specs,omitempty"`
	Status     string   `json:"status"`
	Duration   string   `json:"duration"`
	Error      string   `json:"error,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Logs       []string `json:"logs,omitempty"`
}

// ReportSuite reports suite results in JSON format.
func (r *JSONReporter) ReportSuite(result *engine.SuiteResult) {
	rate, _ := passRate(result)
	jr := JSONSuiteResult{
		SuiteName: result.SuiteName,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Total:     len(result.Results),
		Passed:    result.PassCount,
		Failed:    result.FailCount,
		Skipped:   result.SkipCount,
		PassRate:  rate,
		Tests:     make([]JSONTestResult, 0, len(result.Results)),
	}

	for _, tr := range result.Results {
		jr.Tests = append(jr.Tests, r.testToJSON(tr))
	}

	r.writeJSON(jr)
}

// ReportTest reports a single case result in JSON format.
func (r *JSONReporter) ReportTest(result *engine.TestResult) {
	r.writeJSON(r.testToJSON(result))
}

func (r *JSONReporter) testToJSON(result *engine.TestResult) JSONTestResult {
	c := result.Case
	jr := JSONTestResult{
		ID:         c.ID,
		Name:       c.Name,
		Kind:       string(c.Kind),
		Status:     result.Status.String(),
		Duration:   result.Duration.Round(time.Millisecond).String(),
		SkipReason: result.SkipReason,
		Logs:       result.Logs,
	}
	for _, s := range c.Specs {
		jr.Specs = append(jr.Specs, string(s))
	}
	if result.Error != nil {
		jr.Error = result.Error.Error()
	}
	return jr
}

func (r *JSONReporter) writeJSON(v any) {
	var data []byte
	var err error

	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`, err)
		return
	}

	fmt.Fprintln(r.writer, string(data))
}

// JUnitReporter outputs JUnit XML format for CI integration.
type JUnitReporter struct {
	writer io.Writer
}

// NewJUnitReporter creates a new JUnit reporter.
func NewJUnitReporter(w io.Writer) *JUnitReporter {
	return &JUnitReporter{writer: w}
}

// ReportSuite reports suite results in JUnit XML format.
func (r *JUnitReporter) ReportSuite(result *engine.SuiteResult) {
	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("\n")

	fmt.Fprintf(&b, `<testsuite name="%s" tests="%d" failures="%d" skipped="%d" time="%.3f">`,
		escapeXML(result.SuiteName),
		len(result.Results),
		result.FailCount,
		result.SkipCount,
		result.Duration.Seconds())
	b.WriteString("\n")

	for _, tr := range result.Results {
		c := tr.Case
		fmt.Fprintf(&b, `  <testcase name="%s" classname="%s" time="%.3f">`,
			escapeXML(c.Name),
			escapeXML(c.ID),
			tr.Duration.Seconds())
		b.WriteString("\n")

		switch {
		case tr.Skipped():
			fmt.Fprintf(&b, `    <skipped message="%s"/>`, escapeXML(tr.SkipReason))
			b.WriteString("\n")
		case tr.Status == engine.StatusFailed:
			msg := "failed"
			if tr.Error != nil {
				msg = tr.Error.Error()
			}
			fmt.Fprintf(&b, `    <failure message="%s">`, escapeXML(msg))
			b.WriteString("\n")

			b.WriteString("      <![CDATA[")
			for _, line := range tr.Logs {
				b.WriteString(strings.ReplaceAll(line, "]]>", "]]]]><![CDATA[>"))
				b.WriteString("\n")
			}
			b.WriteString("]]>\n")
			b.WriteString("    </failure>\n")
		}

		b.WriteString("  </testcase>\n")
	}

	b.WriteString("</testsuite>\n")

	fmt.Fprint(r.writer, b.String())
}

// ReportTest reports a single case in JUnit format, wrapped in a minimal
// testsuite.
func (r *JUnitReporter) ReportTest(result *engine.TestResult) {
	suite := &engine.SuiteResult{
		SuiteName: "Single Test",
		Results:   []*engine.TestResult{result},
		Duration:  result.Duration,
	}
	switch result.Status {
	case engine.StatusPassed:
		suite.PassCount = 1
	case engine.StatusSkipped:
		suite.SkipCount = 1
	default:
		suite.FailCount = 1
	}
	r.ReportSuite(suite)
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
