package main

import (
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"time"

	"greenev/event"
	"greenev/hub"

	"github.com/arl/statsviz"
	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "net/http/pprof"
)

var errTimeout = errors.New("timed out")

var (
	eventsFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greenev_events_fired_total",
		Help: "Events fired by the demo driver.",
	})
	waiterWakeups = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greenev_waiter_wakeups_total",
		Help: "Wakeups observed by demo waiter tasks.",
	})
)

func main() {
	level := flag.String("level", "info", "Log level (trace, debug, info, warn, error)")
	logfile := flag.String("logfile", "", "Also write logs to this file, rotated by size")
	httpAddr := flag.String("http", "", "Serve /metrics, statsviz and pprof on this address")
	workers := flag.Int("workers", 3, "Waiter tasks per round")
	rounds := flag.Int("rounds", 3, "Rounds to run, 0 for forever")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		log.Error().Err(err).Msg("Invalid log level")
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(lvl)

	// Console output, plus a size-rotated file when asked for.
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
	}
	if *logfile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   *logfile,
			MaxSize:    100, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(writers...))

	if *httpAddr != "" {
		prometheus.MustRegister(eventsFired, waiterWakeups)
		go httpServer(*httpAddr)
	}

	h := hub.New()
	h.Spawn("driver", func() { drive(h, *workers, *rounds) })

	if err := h.Run(); err != nil {
		log.Error().Err(err).Msg("Hub loop ended abnormally")
		os.Exit(1)
	}
	stats := h.Stats()
	log.Info().
		Uint64("spawned", stats.Spawned).
		Uint64("switches", stats.Switches).
		Uint64("callbacks", stats.Callbacks).
		Uint64("timers", stats.TimersFired).
		Msg("Done")
}

// drive runs the demo scenario: a fan-out of waiters released by one send,
// the event rearmed between rounds, and a wait with an externally composed
// timeout.
func drive(h *hub.Hub, workers, rounds int) {
	evt := event.New(h)

	for round := 0; rounds == 0 || round < rounds; round++ {
		for i := 0; i < workers; i++ {
			h.Spawn("waiter", func() {
				val, err := evt.Wait()
				if err != nil {
					log.Warn().Err(err).Msg("Waiter got error")
					return
				}
				waiterWakeups.Inc()
				log.Info().Interface("value", val).Msg("Waiter woke up")
			})
		}

		// Let the waiters park before delivering.
		if err := h.Sleep(10 * time.Millisecond); err != nil {
			return
		}
		evt.Send(round)
		eventsFired.Inc()
		log.Info().Int("round", round).Msg("Sent, still running before any waiter")

		// One full turn for the wake sweep, then rearm.
		if err := h.Sleep(0); err != nil {
			return
		}
		evt.Reset()
	}

	// A wait that nobody will answer, cancelled by a timer: timeouts are
	// composed outside the event, not built into it.
	lost := event.New(h)
	patient := h.Spawn("patient", func() {
		if _, err := lost.Wait(); err != nil {
			log.Info().Err(err).Msg("Patient waiter gave up")
		}
	})
	h.CallLater(50*time.Millisecond, func() {
		patient.Cancel(errTimeout)
	})
}

func httpServer(address string) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("Alive"))
	})
	statsviz.Register(http.DefaultServeMux)

	log.Info().Str("address", address).Msg("Serving metrics")
	if err := http.ListenAndServe(address, nil); err != nil {
		log.Error().Err(err).Msg("HTTP server stopped")
	}
}
