// Package insight asks a language model for attendance commentary. Every call is
// best-effort: failures turn into canned fallback texts, never errors.
package insight

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/mail"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
)

// WeeklyTargetHours is the per-student weekly target used in the report prompt.
const WeeklyTargetHours = 5

const (
	NoDataText            = "No data to analyse yet."
	NoServiceText         = "Unable to reach the AI service, please check the API key."
	ReportUnavailableText = "The analysis service is temporarily unavailable, please try again later."
	EmptyReportText       = "Unable to generate the analysis report."
	NoServiceQuote        = "Great work today!"
	FallbackQuote         = "Keep it up!"
)

var ErrNoRecipients = errors.New("no report recipients configured")

type (
	Service struct {
		lm      core.LanguageModel // nil when no model is configured
		logger  core.Logger
		timeout time.Duration
		nowFunc func() time.Time
	}

	summaryRow struct {
		Name  string `json:"name"`
		Team  string `json:"team"`
		Hours string `json:"hours"`
	}

	ReportRow struct {
		Name     string
		Team     string
		Hours    string
		Sessions int
	}

	ReportData struct {
		GeneratedAt time.Time
		Commentary  string
		Rows        []ReportRow
	}
)

func NewService(lm core.LanguageModel, logger core.Logger, conf *core.Config) *Service {
	return &Service{lm: lm, logger: logger, timeout: conf.Gemini.Timeout, nowFunc: time.Now}
}

func (svc *Service) generate(ctx context.Context, prompt string) (string, error) {
	if svc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.timeout)
		defer cancel()
	}
	return svc.lm.Generate(ctx, prompt)
}

func hours(ms int64, prec int) string {
	return strconv.FormatFloat(float64(ms)/float64(time.Hour/time.Millisecond), 'f', prec, 64)
}

// AnalyzeAttendance writes a short plain-text weekly review of the stats.
func (svc *Service) AnalyzeAttendance(ctx context.Context, stats []attendance.Stats) string {
	if svc.lm == nil {
		return NoServiceText
	}
	if len(stats) == 0 {
		return NoDataText
	}

	summary := make([]summaryRow, 0, len(stats))
	for _, s := range stats {
		summary = append(summary, summaryRow{Name: s.StudentName, Team: s.TeamNumber, Hours: hours(s.TotalDurationMs, 2)})
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		svc.logger.Error(fmt.Sprintf("encoding stats summary: %v", err), err)
		return ReportUnavailableText
	}

	prompt := fmt.Sprintf(`You are a teaching assistant in charge of student attendance. Using the following clock-in data (name, team, total hours), write a short weekly review for the teacher.

Data:
%s

Include:
1. The most active teams or students.
2. Students clearly below target (the weekly target is %d hours).
3. Brief management advice for the teacher.

Keep a professional, encouraging tone. Do not use Markdown: plain text paragraphs only.`, data, WeeklyTargetHours)

	text, err := svc.generate(ctx, prompt)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("attendance analysis failed: %v", err), err)
		return ReportUnavailableText
	}
	if text == "" {
		return EmptyReportText
	}
	return text
}

// StudentQuote returns a short encouraging line for a student who just clocked out.
func (svc *Service) StudentQuote(ctx context.Context, name string, durationMs int64) string {
	if svc.lm == nil {
		return NoServiceQuote
	}

	prompt := fmt.Sprintf("Write one short, light-hearted and humorous line of encouragement for the student %s, "+
		"who just completed %s hours of study. 50 characters at most.", name, hours(durationMs, 1))
	text, err := svc.generate(ctx, prompt)
	if err != nil || text == "" {
		if err != nil {
			svc.logger.Debug(fmt.Sprintf("student quote failed: %v", err), err)
		}
		return FallbackQuote
	}
	return text
}

// WeeklyReport builds the report email: commentary, per-student table and a CSV attachment.
func (svc *Service) WeeklyReport(ctx context.Context, stats []attendance.Stats, recipients []string) (*core.EmailMessage, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	to := make([]mail.Address, 0, len(recipients))
	for _, r := range recipients {
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, core.NewValidationError(err, core.FieldError{Field: "recipients", Error: fmt.Sprintf("invalid email address %q", r)})
		}
		to = append(to, *addr)
	}

	data := ReportData{
		GeneratedAt: svc.nowFunc(),
		Commentary:  svc.AnalyzeAttendance(ctx, stats),
		Rows:        make([]ReportRow, 0, len(stats)),
	}
	for _, s := range stats {
		data.Rows = append(data.Rows, ReportRow{
			Name:     s.StudentName,
			Team:     s.TeamNumber,
			Hours:    hours(s.TotalDurationMs, 2),
			Sessions: s.SessionCount,
		})
	}

	msg := &core.EmailMessage{
		To:           to,
		Subject:      "Attendance report " + data.GeneratedAt.Format("2006-01-02"),
		TemplateName: "attendance_report",
		TemplateData: data,
	}
	if err := msg.Render(); err != nil {
		return nil, errors.Wrap(err, "rendering report")
	}

	csvData, err := statsCSV(data.Rows)
	if err != nil {
		return nil, err
	}
	if err := msg.Attach(bytes.NewReader(csvData), "attendance-"+data.GeneratedAt.Format("2006-01-02")+".csv", "text/csv"); err != nil {
		return nil, errors.Wrap(err, "attaching report")
	}
	return msg, nil
}

func statsCSV(rows []ReportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"student", "team", "hours", "sessions"})
	for _, r := range rows {
		_ = w.Write([]string{r.Name, r.Team, r.Hours, strconv.Itoa(r.Sessions)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "writing report csv")
	}
	return buf.Bytes(), nil
}
