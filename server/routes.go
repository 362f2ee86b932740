package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jmorganca/speedtest/api"
	"github.com/jmorganca/speedtest/envconfig"
	"github.com/jmorganca/speedtest/format"
	"github.com/jmorganca/speedtest/logutil"
	"github.com/jmorganca/speedtest/metrics"
	"github.com/jmorganca/speedtest/speedtest"
	"github.com/jmorganca/speedtest/version"
)

// payload is shared by every /__down response.
var payload = make([]byte, 64*format.KibiByte)

func init() {
	for i := range payload {
		payload[i] = byte(i % 256)
	}
}

type Server struct {
	addr     net.Addr
	engine   *speedtest.Engine
	gatherer prometheus.Gatherer
}

// New serves engine. Metrics come from gatherer; a nil gatherer disables
// the /metrics endpoint.
func New(engine *speedtest.Engine, gatherer prometheus.Gatherer) *Server {
	return &Server{engine: engine, gatherer: gatherer}
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowBrowserExtensions = true
	config.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With"}
	config.AllowOrigins = envconfig.AllowOrigins

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(cors.New(config))

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "speedtest is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "speedtest is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version}) })

	// peer endpoints other speedtest instances can measure against
	r.GET("/__down", s.DownHandler)
	r.POST("/__up", s.UpHandler)

	r.POST("/api/download", s.TestHandler(api.KindDownload))
	r.POST("/api/upload", s.TestHandler(api.KindUpload))
	r.POST("/api/cancel", s.CancelHandler)
	r.POST("/api/reset", s.ResetHandler)
	r.GET("/api/state", s.StateHandler)
	r.GET("/api/ws", s.WSHandler)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// DownHandler streams ?bytes=N bytes, or streams until the client leaves
// when bytes is omitted.
func (s *Server) DownHandler(c *gin.Context) {
	size := int64(-1)
	if v := c.Query("bytes"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid bytes %q", v)})
			return
		}
		size = n
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	if size >= 0 {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for sent := int64(0); size < 0 || sent < size; {
		buf := payload
		if size >= 0 {
			buf = buf[:min(int64(len(buf)), size-sent)]
		}

		n, err := c.Writer.Write(buf)
		sent += int64(n)
		if err != nil || ctx.Err() != nil {
			return
		}
	}
}

// UpHandler drains the request body and reports how much arrived.
func (s *Server) UpHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		slog.Debug("upload aborted", "received", n, "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.UploadResponse{Received: n})
}

// TestHandler runs a test of kind on the server's engine and streams its
// events as newline-delimited JSON. The test is cancelled if the client
// goes away.
func (s *Server) TestHandler(kind api.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req api.TestRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		stream, ok, err := s.engine.Start(c.Request.Context(), kind, configFromRequest(kind, req))
		if err != nil {
			c.AbortWithStatusJSON(statusFromError(err), gin.H{"error": err.Error()})
			return
		}

		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("%s test already running", kind)})
			return
		}

		streamResponse(c, stream)
	}
}

func (s *Server) CancelHandler(c *gin.Context) {
	var req api.KindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.Cancel(req.Kind); err != nil {
		c.AbortWithStatusJSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) ResetHandler(c *gin.Context) {
	var req api.KindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.Reset(req.Kind); err != nil {
		c.AbortWithStatusJSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) StateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.States())
}

// configFromRequest fills in the configured defaults for fields the request
// leaves empty.
func configFromRequest(kind api.Kind, req api.TestRequest) speedtest.Config {
	cfg := speedtest.ConfigFromRequest(req)
	if cfg.URL == "" {
		cfg.URL = envconfig.DownloadURL
		if kind == api.KindUpload {
			cfg.URL = envconfig.UploadURL
		}
	}

	if cfg.Duration == 0 {
		cfg.Duration = envconfig.Duration
	}

	if kind == api.KindUpload {
		if cfg.ChunkSize == 0 {
			cfg.ChunkSize = envconfig.ChunkSize
		}

		if cfg.ByteCap == 0 {
			cfg.ByteCap = envconfig.ByteCap
		}
	}

	return cfg
}

func statusFromError(err error) int {
	var cerr *speedtest.ConfigError
	if errors.As(err, &cerr) {
		if cerr.Field == "kind" {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

func streamResponse(c *gin.Context, stream *speedtest.Stream) {
	defer stream.Close()

	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream.Events()
		if !ok {
			return false
		}

		bts, err := json.Marshal(ev)
		if err != nil {
			slog.Info(fmt.Sprintf("streamResponse: json.Marshal failed with %s", err))
			return false
		}

		// Delineate chunks with new-line delimiter
		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info(fmt.Sprintf("streamResponse: w.Write failed with %s", err))
			return false
		}

		return true
	})
}

// Serve runs the API on ln until ctx is cancelled. Running tests are
// cancelled before the listener shuts down.
func Serve(ctx context.Context, ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel))
	slog.Info("server config", "env", envconfig.Values())

	if !envconfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New()
	reg.MustRegister(collector, collectors.NewGoCollector())

	s := &Server{
		addr:     ln.Addr(),
		engine:   speedtest.New(speedtest.WithObserver(collector)),
		gatherer: reg,
	}
	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("Listening on %s (version %s)", s.addr, version.Version))
		if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.engine.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srvr.Shutdown(sctx)
	})

	return g.Wait()
}
