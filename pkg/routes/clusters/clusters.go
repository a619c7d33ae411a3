package clusters

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/juniper/config"
	"github.com/Ramsey-B/juniper/internal/repositories/personcluster"
	"github.com/Ramsey-B/juniper/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/juniper/pkg/graph"
	"github.com/Ramsey-B/juniper/pkg/metrics"
	"github.com/Ramsey-B/juniper/pkg/models"
	"github.com/Ramsey-B/juniper/pkg/redis"
	"github.com/Ramsey-B/juniper/pkg/tracing"
)

// Register registers cluster routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.GET("/search", Search)
	g.GET("/by-linked-id/:id", ByLinkedID)
	g.GET("/:id", Get)
	g.GET("/:id/graph", GetGraph)
}

// SearchResponse is the name search result payload, cached as a unit.
type SearchResponse struct {
	Query string                 `json:"query"`
	Items []models.PersonCluster `json:"items"`
	Count int                    `json:"count"`
}

// List returns a run's clusters, defaulting to the latest completed run
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.List")
	defer span.End()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	runID := c.QueryParam("run_id")
	if runID == "" {
		ctx2, runRepo, err := ectoinject.GetContext[*resolutionrun.Repository](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
		}
		ctx = ctx2

		latest, err := runRepo.LatestCompleted(ctx)
		if err != nil {
			return err
		}
		if latest == nil {
			return c.JSON(http.StatusOK, models.ClusterListResponse{Items: []models.PersonCluster{}, Page: 1, PageSize: pageSize})
		}
		runID = latest.ID
	}

	ctx, repo, err := ectoinject.GetContext[*personcluster.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	resp, err := repo.ListByRun(ctx, runID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// Get returns a cluster by id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*personcluster.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	cluster, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, cluster)
}

// ByLinkedID returns every cluster linked to a case or role id
func ByLinkedID(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.ByLinkedID")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*personcluster.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	clusters, err := repo.GetByLinkedID(ctx, id)
	if err != nil {
		return err
	}
	if len(clusters) == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "no cluster linked to %s", id)
	}

	return c.JSON(http.StatusOK, clusters)
}

// Search returns clusters whose canonical name contains the query. Responses
// are cached until the next completed run invalidates the keyspace.
func Search(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.Search")
	defer span.End()

	query := strings.TrimSpace(c.QueryParam("name"))
	if query == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "name query parameter is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, cfg, err := ectoinject.GetContext[config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get config")
	}

	var cache *redis.VersionedCache
	cacheKey := "name:" + strings.ToLower(query) + ":" + strconv.Itoa(limit)
	if cfg.SearchCacheEnabled {
		ctx2, versioned, err := ectoinject.GetContext[*redis.VersionedCache](ctx)
		if err == nil {
			ctx = ctx2
			cache = versioned

			var cached SearchResponse
			hit, err := cache.Get(ctx, cacheKey, &cached)
			if err == nil && hit {
				metrics.LookupSearches.WithLabelValues("hit").Inc()
				return c.JSON(http.StatusOK, cached)
			}
		}
	}

	ctx, repo, err := ectoinject.GetContext[*personcluster.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	clusters, err := repo.SearchByName(ctx, query, limit)
	if err != nil {
		return err
	}

	resp := SearchResponse{Query: query, Items: clusters, Count: len(clusters)}
	if cache != nil {
		metrics.LookupSearches.WithLabelValues("miss").Inc()
		// Best effort: a failed cache write only costs the next query a miss.
		_ = cache.Set(ctx, cacheKey, resp)
	} else {
		metrics.LookupSearches.WithLabelValues("uncached").Inc()
	}

	return c.JSON(http.StatusOK, resp)
}

// GetGraph returns a cluster's graph neighborhood: the person node, its
// linked cases, and other identities appearing in those cases
func GetGraph(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "clusters_handler.GetGraph")
	defer span.End()

	id := c.Param("id")

	ctx, querySvc, err := ectoinject.GetContext[*graph.QueryService](ctx)
	if err != nil {
		// The query service is only registered when the graph is enabled.
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph projection is not enabled")
	}

	clusterGraph, err := querySvc.ClusterNeighborhood(ctx, id)
	if err != nil {
		return err
	}
	if clusterGraph == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "cluster %s not found in graph", id)
	}

	return c.JSON(http.StatusOK, clusterGraph)
}
