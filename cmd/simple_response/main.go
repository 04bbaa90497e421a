package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	sr "simple_response"
)

type flags struct {
	Network      string
	Addr         string
	KeepAlive    bool
	EmptyStatus  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func parseFlags() *flags {
	f := &flags{}

	flag.StringVarP(&f.Network, "network", "n", "tcp", "network to listen on (tcp, tcp4, tcp6, unix)")
	flag.StringVarP(&f.Addr, "addr", "a", "localhost:8080", "address to listen on")
	flag.BoolVar(&f.KeepAlive, "keep-alive", true, "keep connections open by default")
	flag.StringVar(&f.EmptyStatus, "empty-status", "", "status written when a handler sends no headers, e.g. \""+sr.StatusNoContent+"\"")

	flag.DurationVar(&f.ReadTimeout, "read-timeout", 6*time.Second, "max duration for reading a request")
	flag.DurationVar(&f.WriteTimeout, "write-timeout", 12*time.Second, "max duration for writing a response")
	flag.DurationVar(&f.IdleTimeout, "idle-timeout", time.Minute, "max wait for the next request on a kept-alive connection")

	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	srv := &sr.Server{
		Network:             f.Network,
		Addr:                f.Addr,
		Handler:             sr.HelloWorldHandler(),
		DisableKeepAlives:   !f.KeepAlive,
		EmptyResponseStatus: f.EmptyStatus,
		ReadTimeout:         f.ReadTimeout,
		WriteTimeout:        f.WriteTimeout,
		IdleTimeout:         f.IdleTimeout,
		ErrorLog:            log.New(os.Stderr, "simple_response ", log.LstdFlags),
	}

	stopC := make(chan os.Signal, 1)
	signal.Notify(stopC, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("listening on %s %q...\n", srv.Network, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != sr.ErrServerClosed {
			fmt.Printf("server failed: %v\n", err)
			os.Exit(1)
		}
	}()

	<-stopC
	fmt.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("server shutdown failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("server stopped after %d kept-alive exchanges.\n", srv.KeptAlive())
}
