package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-sif/catalog"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/internal/util"
	"github.com/go-sif/catalog/selection"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// maxRowsPerRequest bounds the rows returned by one column request
const maxRowsPerRequest = 1 << 16

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string
	var cacheSize int
	cmd := &cobra.Command{
		Use:   "serve <location>",
		Short: "Serve the columns of a bigfile catalog over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger()
			store, err := openStore(args[0], &logger)
			if err != nil {
				return err
			}
			defer store.Shutdown(context.Background())
			reg := prometheus.NewRegistry()
			cat, err := catalog.FromBigFile(cmd.Context(), store, &catalog.Options{
				Logger:     &logger,
				UseCache:   true,
				CacheSize:  cacheSize,
				Registerer: reg,
			})
			if err != nil {
				return err
			}
			defer cat.Close()
			s := newServer(cat, reg, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				logger.Info().Str("addr", addr).Str("catalog", cat.String()).Msg("serving catalog")
				if err := s.echo.Start(addr); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("server failed")
					stop()
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.echo.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":"+util.GetEnvOrDefault("HTTP_PORT", "8080"), "listen address")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 64, "number of computed columns to keep in memory")
	return cmd
}

type server struct {
	cat    *catalog.Catalog
	echo   *echo.Echo
	logger zerolog.Logger
}

type columnInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Width int    `json:"width"`
	Hard  bool   `json:"hard"`
}

type summary struct {
	Size          int             `json:"size"`
	Columns       []columnInfo    `json:"columns"`
	Attrs         json.RawMessage `json:"attrs"`
	CachedBuffers int             `json:"cached_buffers"`
}

type columnRows struct {
	Name  string    `json:"name"`
	DType string    `json:"dtype"`
	Width int       `json:"width"`
	Start int       `json:"start"`
	Rows  []jsonRow `json:"rows"`
}

// jsonRow encodes NaN and infinite components, which JSON cannot represent, as null
type jsonRow []float64

func (r jsonRow) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+8*len(r))
	out = append(out, '[')
	for k, v := range r {
		if k > 0 {
			out = append(out, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out = append(out, "null"...)
			continue
		}
		out = strconv.AppendFloat(out, v, 'g', -1, 64)
	}
	return append(out, ']'), nil
}

func newServer(cat *catalog.Catalog, reg *prometheus.Registry, logger zerolog.Logger) *server {
	s := &server{cat: cat, echo: echo.New(), logger: logger}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(s.loggerMiddleware)

	s.echo.GET("/hc", s.healthCheck)
	s.echo.GET("/summary", s.summary)
	s.echo.GET("/columns/:name", s.column)
	s.echo.POST("/cache/shrink", s.shrinkCache)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	return s
}

func (s *server) loggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req, res := c.Request(), c.Response()
		s.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Int("status", res.Status).Dur("latency", time.Since(start)).Int64("bytes_out", res.Size).Msg("request")
		return nil
	}
}

func (*server) healthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *server) summary(c echo.Context) error {
	hard := make(map[string]bool)
	for _, name := range s.cat.HardColumns() {
		hard[name] = true
	}
	out := summary{Size: s.cat.Size(), Columns: []columnInfo{}, CachedBuffers: s.cat.CachedBuffers()}
	for _, name := range s.cat.Columns() {
		col, err := s.cat.Get(name)
		if err != nil {
			return err
		}
		out.Columns = append(out.Columns, columnInfo{Name: name, DType: col.DType().String(), Width: col.Width(), Hard: hard[name]})
	}
	attrs, err := s.cat.Attrs().MarshalJSON()
	if err != nil {
		return err
	}
	out.Attrs = attrs
	return c.JSON(http.StatusOK, out)
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
	}
	return i, nil
}

// column returns rows [start, stop) of a column
func (s *server) column(c echo.Context) error {
	name := c.Param("name")
	start, err := queryInt(c, "start", 0)
	if err != nil {
		return err
	}
	stop, err := queryInt(c, "stop", start+100)
	if err != nil {
		return err
	}
	if start < 0 || stop < start || stop-start > maxRowsPerRequest {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid row range [%d, %d)", start, stop))
	}
	if stop > s.cat.Size() {
		stop = s.cat.Size()
	}
	if start > stop {
		start = stop
	}
	rows, err := s.cat.Slice(selection.Range(start, stop, 1))
	if err != nil {
		return s.httpError(err)
	}
	col, err := rows.Get(name)
	if err != nil {
		return s.httpError(err)
	}
	buf, err := col.Compute(c.Request().Context())
	if err != nil {
		return s.httpError(err)
	}
	out := columnRows{Name: name, DType: buf.DType().String(), Width: buf.Width(), Start: start, Rows: make([]jsonRow, buf.Len())}
	for i := range out.Rows {
		out.Rows[i] = buf.Row(i)
	}
	return c.JSON(http.StatusOK, out)
}

// shrinkCache evicts cached columns down to a fraction of those held
func (s *server) shrinkCache(c echo.Context) error {
	frac, err := strconv.ParseFloat(c.QueryParam("fraction"), 64)
	if err != nil || frac < 0 || frac >= 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "fraction must be in [0, 1)")
	}
	if !s.cat.ShrinkCache(frac) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSON(http.StatusOK, map[string]int{"cached_buffers": s.cat.CachedBuffers()})
}

func (s *server) httpError(err error) error {
	var missing errors.MissingColumnError
	if stderrors.As(err, &missing) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var selector errors.InvalidSelectorError
	if stderrors.As(err, &selector) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Error().Err(err).Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
