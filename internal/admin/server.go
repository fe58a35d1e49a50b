// Package admin serves the replicad HTTP surface: health, prometheus
// metrics, per-client replication state and optionally the websocket
// backend.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/replica/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

type Admin struct {
	ID      string
	Addr    string
	Started time.Time

	board  *Board
	router *gin.Engine
}

func New(id, addr string, corsOrigins []string, board *Board) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if board == nil {
		board = NewBoard()
	}
	a := &Admin{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		board:   board,
		router:  r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) Board() *Board {
	return a.board
}

// Mount serves h at path, e.g. the websocket backend sharing the admin
// listener.
func (a *Admin) Mount(path string, h http.Handler) {
	a.router.GET(path, gin.WrapH(h))
}

// Serve listens on Addr until ctx is done.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("admin.Serve addr=%s", a.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Warn().Msgf("admin.Serve shutdown err=%v", err)
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
