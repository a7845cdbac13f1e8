package echoapi

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
)

const qrSize = 256 // px

type cloudApi struct {
	tracker     *attendance.Tracker
	validate    *validator.Validate
	logger      core.Logger
	frontendURL string
}

func registerCloudAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := cloudApi{
		tracker:     deps.Tracker,
		validate:    deps.Validate,
		logger:      deps.Logger,
		frontendURL: deps.Conf.FrontendBaseURL,
	}

	g.GET("/cloud", api.state)
	g.GET("/connect", api.connectLink)

	cg := g.Group("/cloud", jwt)
	cg.POST("/connect", api.connect)
	cg.POST("/refresh", api.refresh)
	cg.DELETE("", api.disconnect)
	cg.GET("/share", api.share)
	cg.GET("/share.png", api.shareQR)
}

// Handlers

func (api *cloudApi) state(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.tracker.CloudState())
}

func (api *cloudApi) connect(ctx echo.Context) error {
	var cfg attendance.RemoteConfig
	if err := ctx.Bind(&cfg); err != nil {
		return errors.Wrap(err, "binding to RemoteConfig")
	}
	if err := api.tracker.Connect(ctx.Request().Context(), cfg); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.tracker.CloudState())
}

// connectLink is the public landing of a share link. It leaves the tracker alone and
// hands the credentials to the frontend, where an unlocked teacher confirms them with
// POST /cloud/connect.
func (api *cloudApi) connectLink(ctx echo.Context) error {
	cfg := attendance.RemoteConfig{
		Provider: ctx.QueryParam("provider"),
		BinID:    ctx.QueryParam("binId"),
		APIKey:   ctx.QueryParam("apiKey"),
	}
	cfg.Clean()

	target := api.frontendURL + "/"
	if err := api.validate.Struct(cfg); err != nil {
		api.logger.Warn(fmt.Sprintf("invalid share link: %v", err), err)
		return ctx.Redirect(http.StatusSeeOther, target+"?connect=invalid")
	}
	return ctx.Redirect(http.StatusSeeOther, target+"?"+shareQuery(cfg).Encode())
}

func (api *cloudApi) refresh(ctx echo.Context) error {
	applied, err := api.tracker.Refresh(ctx.Request().Context())
	if err != nil && !isSyncError(err) {
		return err
	}
	// poll failures are reported in the cloud state
	return ctx.JSON(http.StatusOK, RefreshResponse{Applied: applied, Cloud: api.tracker.CloudState()})
}

func (api *cloudApi) disconnect(ctx echo.Context) error {
	api.tracker.Disconnect(ctx.Request().Context())
	return ctx.NoContent(http.StatusNoContent)
}

func (api *cloudApi) share(ctx echo.Context) error {
	link, err := api.shareURL(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ShareResponse{URL: link})
}

func (api *cloudApi) shareQR(ctx echo.Context) error {
	link, err := api.shareURL(ctx)
	if err != nil {
		return err
	}
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		return errors.Wrap(err, "encoding share link")
	}
	return ctx.Blob(http.StatusOK, "image/png", png)
}

// shareURL builds the link other devices open to join the same remote document.
// It embeds the unmasked API key.
func (api *cloudApi) shareURL(ctx echo.Context) (string, error) {
	cfg, ok := api.tracker.RemoteConfig()
	if !ok {
		return "", attendance.ErrNotConnected
	}

	u := url.URL{
		Scheme:   ctx.Scheme(),
		Host:     ctx.Request().Host,
		Path:     "/v1/connect",
		RawQuery: shareQuery(cfg).Encode(),
	}
	return u.String(), nil
}

func shareQuery(cfg attendance.RemoteConfig) url.Values {
	q := make(url.Values, 3)
	q.Set("binId", cfg.BinID)
	if cfg.APIKey != "" {
		q.Set("apiKey", cfg.APIKey)
	}
	if cfg.Provider != "" && cfg.Provider != attendance.ProviderJSONBin {
		q.Set("provider", cfg.Provider)
	}
	return q
}

func isSyncError(err error) bool {
	var se *attendance.SyncError
	return errors.As(err, &se)
}
