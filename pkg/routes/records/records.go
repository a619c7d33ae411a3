package records

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/juniper/internal/repositories/personrecord"
	"github.com/Ramsey-B/juniper/pkg/metrics"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

var validate = validator.New()

// Register registers person record routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.POST("/bulk", BulkCreate)
	g.GET("", List)
	g.GET("/:id", Get)
}

// Create stages a single person record
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "records_handler.Create")
	defer span.End()

	var req models.CreatePersonRecordRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		metrics.RecordsIngested.WithLabelValues("api", "invalid").Inc()
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*personrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.Upsert(ctx, req)
	if err != nil {
		return err
	}

	if result.IsNew {
		metrics.RecordsIngested.WithLabelValues("api", "created").Inc()
		return c.JSON(http.StatusCreated, result.Record)
	}
	metrics.RecordsIngested.WithLabelValues("api", "updated").Inc()
	return c.JSON(http.StatusOK, result.Record)
}

// BulkCreate stages a batch of person records
func BulkCreate(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "records_handler.BulkCreate")
	defer span.End()

	var req models.BulkCreatePersonRecordsRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*personrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	var resp models.BulkCreatePersonRecordsResponse
	for _, record := range req.Records {
		result, err := repo.Upsert(ctx, record)
		if err != nil {
			return err
		}
		if result.IsNew {
			resp.Created++
			metrics.RecordsIngested.WithLabelValues("api", "created").Inc()
		} else {
			resp.Updated++
			metrics.RecordsIngested.WithLabelValues("api", "updated").Inc()
		}
	}

	return c.JSON(http.StatusCreated, resp)
}

// List returns staged person records, newest first
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "records_handler.List")
	defer span.End()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*personrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.List(ctx, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// Get returns a staged person record by id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "records_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*personrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	record, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}
