package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/insight"
)

type attendanceApi struct {
	tracker  *attendance.Tracker
	insight  *insight.Service
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := attendanceApi{
		tracker:  deps.Tracker,
		insight:  deps.Insight,
		validate: deps.Validate,
	}

	// student terminal
	g.GET("/groups", api.queryGroups)
	g.GET("/students", api.queryStudents)
	g.GET("/sessions/active", api.queryActiveSessions)
	g.POST("/clock-in", api.clockIn)
	g.POST("/clock-out", api.clockOut)

	// teacher view
	g.POST("/groups", api.createGroup, jwt)
	g.DELETE("/groups/:id", api.destroyGroup, jwt)
	g.POST("/students", api.createStudent, jwt)
	g.DELETE("/students/:id", api.destroyStudent, jwt)
	g.GET("/students/:id/history", api.studentHistory, jwt)
	g.GET("/sessions", api.querySessions, jwt)
	g.DELETE("/sessions", api.resetData, jwt)
}

// Handlers

func (api *attendanceApi) queryGroups(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.tracker.Groups())
}

func (api *attendanceApi) createGroup(ctx echo.Context) error {
	var data NewGroupRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroupRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	grp, ok := api.tracker.AddGroup(ctx.Request().Context(), data.Name)
	if !ok {
		return core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field cannot be blank"})
	}
	return ctx.JSON(http.StatusCreated, grp)
}

func (api *attendanceApi) destroyGroup(ctx echo.Context) error {
	if !api.tracker.RemoveGroup(ctx.Request().Context(), ctx.Param("id")) {
		return errHttpNotFound
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *attendanceApi) queryStudents(ctx echo.Context) error {
	if groupID := core.CleanString(ctx.QueryParam("group_id")); groupID != "" {
		return ctx.JSON(http.StatusOK, api.tracker.StudentsByGroup(groupID))
	}
	return ctx.JSON(http.StatusOK, api.tracker.Students())
}

func (api *attendanceApi) createStudent(ctx echo.Context) error {
	var data NewStudentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudentRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	std, ok := api.tracker.AddStudent(ctx.Request().Context(), data.Name, data.GroupID)
	if !ok {
		return core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field cannot be blank"})
	}
	return ctx.JSON(http.StatusCreated, std)
}

func (api *attendanceApi) destroyStudent(ctx echo.Context) error {
	if !api.tracker.RemoveStudent(ctx.Request().Context(), ctx.Param("id")) {
		return errHttpNotFound
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *attendanceApi) studentHistory(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.tracker.StudentHistory(ctx.Param("id")))
}

func (api *attendanceApi) querySessions(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.tracker.Sessions())
}

func (api *attendanceApi) queryActiveSessions(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.tracker.ActiveSessions())
}

func (api *attendanceApi) clockIn(ctx echo.Context) error {
	var data ClockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClockRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.tracker.ClockIn(ctx.Request().Context(), data.StudentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *attendanceApi) clockOut(ctx echo.Context) error {
	var data ClockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClockRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.tracker.ClockOut(ctx.Request().Context(), data.StudentID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ClockOutResponse{
		ClockOutResult: res,
		Quote:          api.insight.StudentQuote(ctx.Request().Context(), res.StudentName, res.DurationMs),
	})
}

func (api *attendanceApi) resetData(ctx echo.Context) error {
	if confirm, _ := strconv.ParseBool(ctx.QueryParam("confirm")); !confirm {
		return errConfirmRequired
	}
	api.tracker.ResetData(ctx.Request().Context())
	return ctx.NoContent(http.StatusNoContent)
}
