package runs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/juniper/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/redis"
	"github.com/Ramsey-B/juniper/pkg/runs"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Register registers resolution run routes
func Register(g *echo.Group) {
	g.POST("", Trigger)
	g.GET("", List)
	g.GET("/:id", Get)
}

// Trigger starts a resolution run. The response carries the running run; its
// outcome lands on the run row and can be polled via GET /runs/:id.
func Trigger(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Trigger")
	defer span.End()

	ctx, svc, err := ectoinject.GetContext[*runs.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run service")
	}

	run, err := svc.Trigger(ctx, models.RunTriggerAPI)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return httperror.NewHTTPError(http.StatusConflict, "a resolution run is already in progress")
		}
		return err
	}

	return c.JSON(http.StatusAccepted, run)
}

// List returns resolution runs, newest first
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.List")
	defer span.End()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*resolutionrun.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// Get returns a resolution run summary by id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*resolutionrun.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	run, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, run)
}
