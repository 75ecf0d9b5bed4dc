// Command server exposes the rig over HTTP and WebSocket for a browser UI.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CK6170/EposForce-go/internal/server"
	"github.com/CK6170/EposForce-go/rig"
)

func main() {
	var (
		addr  = flag.String("addr", "127.0.0.1:8080", "http listen address")
		web   = flag.String("web", "./web", "path to web root (index.html)")
		debug = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	log := rig.NewLogger(nil, *debug)

	webRoot := *web
	if st, err := os.Stat(webRoot); err != nil || !st.IsDir() {
		log.WithField("web", webRoot).Info("web root not found, serving API only")
		webRoot = ""
	}

	s := server.New(log, webRoot)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Serving on http://%s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cerr := s.Close(); cerr != nil {
			log.WithError(cerr).Warn("release hardware")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server")
		os.Exit(1)
	}
}
