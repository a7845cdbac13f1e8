package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/insight"
)

type statsApi struct {
	tracker    *attendance.Tracker
	insight    *insight.Service
	mailer     core.EmailService
	validate   *validator.Validate
	recipients []string
}

func registerStatsAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := statsApi{
		tracker:    deps.Tracker,
		insight:    deps.Insight,
		mailer:     deps.Mailer,
		validate:   deps.Validate,
		recipients: deps.Conf.ReportRecipients,
	}

	sg := g.Group("/stats", jwt)
	sg.GET("", api.query)
	sg.POST("/report", api.report)
	sg.POST("/report/email", api.emailReport)
}

// Handlers

func (api *statsApi) query(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.tracker.AggregatedStats())
}

func (api *statsApi) report(ctx echo.Context) error {
	text := api.insight.AnalyzeAttendance(ctx.Request().Context(), api.tracker.AggregatedStats())
	return ctx.JSON(http.StatusOK, ReportResponse{Report: text})
}

func (api *statsApi) emailReport(ctx echo.Context) error {
	var data ReportEmailRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to ReportEmailRequest")
		}
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	recipients := data.Recipients
	if len(recipients) == 0 {
		recipients = api.recipients
	}

	msg, err := api.insight.WeeklyReport(ctx.Request().Context(), api.tracker.AggregatedStats(), recipients)
	if err != nil {
		return err
	}
	api.mailer.SendMessages(msg)
	return ctx.JSON(http.StatusAccepted, ReportEmailResponse{Recipients: len(msg.To)})
}
