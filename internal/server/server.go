// Package server pushes samples to chart front-ends over SSE and WebSocket
// and serves the recorded history.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/resgraph/internal/metrics"
	"github.com/jeffypooo/resgraph/internal/series"
)

const wsWriteTimeout = 5 * time.Second

type Server struct {
	e        *echo.Echo
	sampler  *metrics.Sampler
	store    *series.Store
	buffer   int
	upgrader websocket.Upgrader
}

func New(sampler *metrics.Sampler, store *series.Store, logger *log.Logger, buffer int) *Server {
	e := echo.New()
	e.HideBanner = true
	if logger != nil {
		e.Logger = logger
	}

	s := &Server{
		e:       e,
		sampler: sampler,
		store:   store,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	e.GET("/api/series", s.seriesHandler)
	e.GET("/api/disks", s.disksHandler)
	e.GET("/api/samples/sse", s.samplesSSEHandler)
	e.GET("/api/samples/ws", s.samplesWSHandler)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Record subscribes the store to the sampler before returning, then appends
// every sample in the background until the sampler stops or ctx is done.
// The returned channel is closed once recording has ended.
func (s *Server) Record(ctx context.Context) <-chan struct{} {
	samples, unsubscribe := s.sampler.Subscribe(s.buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-samples:
				if !ok {
					return
				}
				s.store.Append(sample)
			}
		}
	}()
	return done
}

func (s *Server) Start(addr string) error {
	err := s.e.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) seriesHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Snapshot())
}

func (s *Server) disksHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sampler.Disks())
}

func (s *Server) samplesSSEHandler(c echo.Context) error {
	c.Logger().Infof("SSE client connected from %s", c.Request().RemoteAddr)

	samples, unsubscribe := s.sampler.Subscribe(s.buffer)
	defer unsubscribe()

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("Access-Control-Allow-Origin", "*")
	resp.WriteHeader(http.StatusOK)

	fmt.Fprintf(resp.Writer, "event: connected\ndata: Connected to sample stream\n\n")
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			c.Logger().Info("SSE client disconnected")
			return nil
		case sample, ok := <-samples:
			if !ok {
				fmt.Fprintf(resp.Writer, "event: stopped\ndata: sampler stopped\n\n")
				resp.Flush()
				return nil
			}
			data, err := json.Marshal(sample)
			if err != nil {
				return fmt.Errorf("error encoding sample: %w", err)
			}
			if _, err := fmt.Fprintf(resp.Writer, "event: sample\ndata: %s\n\n", data); err != nil {
				c.Logger().Warnf("error writing sample %d: %v", sample.Tick, err)
				return nil
			}
			resp.Flush()
		}
	}
}

func (s *Server) samplesWSHandler(c echo.Context) error {
	samples, unsubscribe := s.sampler.Subscribe(s.buffer)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		c.Logger().Warnf("websocket upgrade from %s failed: %v", c.Request().RemoteAddr, err)
		return nil
	}
	defer conn.Close()
	c.Logger().Infof("websocket client connected from %s", c.Request().RemoteAddr)

	// Clients only listen. Reading is how a close from their side is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			c.Logger().Info("websocket client disconnected")
			return nil
		case sample, ok := <-samples:
			if !ok {
				err := conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "sampler stopped"),
					time.Now().Add(wsWriteTimeout))
				if err != nil {
					c.Logger().Debugf("error sending close frame: %v", err)
				}
				return nil
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				c.Logger().Warnf("error setting write deadline: %v", err)
				return nil
			}
			if err := conn.WriteJSON(sample); err != nil {
				c.Logger().Warnf("error writing sample %d: %v", sample.Tick, err)
				return nil
			}
		}
	}
}
