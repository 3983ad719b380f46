package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"regionwatch/internal/types"
)

// maxRegistryPages stops a runaway cursor loop.
const maxRegistryPages = 1000

// RegionClientConfig configures a RegionClient.
type RegionClientConfig struct {
	BaseURL  string
	APIKey   string
	PageSize int
	// CacheTTL bounds how stale a mode listing may be. Zero disables caching.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

type page[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"nextCursor"`
}

// RegionClient reads regions and polygons from the region registry. The
// registry owns these records; regionwatch never writes them.
type RegionClient struct {
	base     *BaseClient
	baseURL  string
	apiKey   string
	pageSize int
	byMode   *ttlcache.Cache[types.Mode, []types.Region]
	logger   *slog.Logger
}

// NewRegionClient creates a RegionClient. Reads go through base, which should
// normally retry.
func NewRegionClient(base *BaseClient, cfg RegionClientConfig) *RegionClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	c := &RegionClient{
		base:     base,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		logger:   logger,
	}
	if cfg.CacheTTL > 0 {
		c.byMode = ttlcache.New(
			ttlcache.WithTTL[types.Mode, []types.Region](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[types.Mode, []types.Region](),
		)
	}
	return c
}

// GetRegion fetches one region. A missing region is ErrCodeNotFoundRegion.
func (c *RegionClient) GetRegion(ctx context.Context, id string) (*types.Region, error) {
	var region types.Region
	if err := c.getJSON(ctx, "/v1/regions/"+url.PathEscape(id), nil, &region); err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundRegion) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundRegion, "region not found", nil,
				map[string]any{"regionId": id})
		}
		return nil, err
	}
	return &region, nil
}

// ListRegionsByMode returns every region whose processing mode is mode. With
// caching enabled, results are shared for the cache TTL.
func (c *RegionClient) ListRegionsByMode(ctx context.Context, mode types.Mode) ([]types.Region, error) {
	if c.byMode == nil {
		return c.listRegionsByMode(ctx, mode)
	}

	var loadErr error
	loader := ttlcache.LoaderFunc[types.Mode, []types.Region](
		func(cache *ttlcache.Cache[types.Mode, []types.Region], key types.Mode) *ttlcache.Item[types.Mode, []types.Region] {
			regions, err := c.listRegionsByMode(ctx, key)
			if err != nil {
				loadErr = err
				return nil
			}
			return cache.Set(key, regions, ttlcache.DefaultTTL)
		},
	)
	item := c.byMode.Get(mode, ttlcache.WithLoader(loader))
	if item == nil {
		if loadErr == nil {
			loadErr = types.NewAppError(types.ErrCodeUpstreamRegistry, "region listing unavailable", nil)
		}
		return nil, loadErr
	}
	return slices.Clone(item.Value()), nil
}

// InvalidateMode drops the cached listing for mode.
func (c *RegionClient) InvalidateMode(mode types.Mode) {
	if c.byMode != nil {
		c.byMode.Delete(mode)
	}
}

func (c *RegionClient) listRegionsByMode(ctx context.Context, mode types.Mode) ([]types.Region, error) {
	regions, err := paginate[types.Region](ctx, c, "/v1/regions", url.Values{"mode": {string(mode)}})
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "listed regions", "mode", string(mode), "count", len(regions))
	return regions, nil
}

// ListPolygons returns a region's polygons. A region with none yields an
// empty slice.
func (c *RegionClient) ListPolygons(ctx context.Context, regionID string) ([]types.Polygon, error) {
	return paginate[types.Polygon](ctx, c, "/v1/regions/"+url.PathEscape(regionID)+"/polygons", nil)
}

func paginate[T any](ctx context.Context, c *RegionClient, path string, query url.Values) ([]T, error) {
	out := make([]T, 0)
	cursor := ""
	for range maxRegistryPages {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var p page[T]
		if err := c.getJSON(ctx, path, q, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		if p.NextCursor == "" || p.NextCursor == cursor {
			return out, nil
		}
		cursor = p.NextCursor
	}
	return nil, types.NewAppError(types.ErrCodeUpstreamRegistry,
		fmt.Sprintf("registry pagination exceeded %d pages", maxRegistryPages), nil)
}

func (c *RegionClient) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create registry request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamRegistry, "region registry unavailable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundRegion, "registry resource not found", nil)
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "region registry error",
			"path", path,
			"status_code", resp.StatusCode,
			"response_body", string(raw),
		)
		return types.NewAppError(types.ErrCodeUpstreamRegistry,
			fmt.Sprintf("region registry returned %d", resp.StatusCode),
			fmt.Errorf("GET %s: %s", path, raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamRegistry, "failed to decode registry response", err)
	}
	return nil
}
