package api

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gasroute/internal/config"
	"gasroute/internal/geo"
	"gasroute/internal/metrics"
	"gasroute/internal/sched"
	"gasroute/internal/store"
	"gasroute/internal/webhooks"
)

type Server struct {
	Cfg      config.Config
	Store    store.Store
	Pipeline *sched.Pipeline
	Pub      *webhooks.Publisher
	Broker   EventBroker
	Log      zerolog.Logger

	mu         sync.RWMutex // guards Cfg and Pipeline after startup
	lookup     *geo.Fallback
	events     sched.Events
	genLimiter *rate.Limiter
}

// NewServer wires the store, event broker, geo lookup chain, and pipeline
// from config. An empty DATABASE_URL selects the in-memory store; an empty
// REDIS_URL selects the in-process broker and distance cache.
func NewServer(cfg config.Config, log zerolog.Logger) (*Server, error) {
	metrics.RegisterDefault()

	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir("db/migrations"); err != nil {
			log.Warn().Err(err).Msg("migrations")
		}
		st = sp
	}

	var broker EventBroker
	var cache geo.Cache = geo.NewMemoryCache(cfg.Geo.CacheTTL)
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
			cache = geo.NewRedisCacheFromClient(rb.rdb, cfg.Geo.CacheTTL)
		} else {
			log.Warn().Err(err).Msg("redis unavailable, using in-memory broker")
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	var primary geo.Provider
	if cfg.Geo.MatrixURL != "" {
		matrix := geo.NewMatrixProvider(cfg.Geo.MatrixURL, cfg.Geo.MatrixKey, cfg.Geo.Timeout)
		primary = geo.NewCachingProvider(matrix, cache)
	}
	lookup := &geo.Fallback{Primary: primary, Estimate: geo.NewHaversine(cfg.Geo.AvgSpeedKph)}

	s := &Server{
		Cfg:    cfg,
		Store:  st,
		Pub:    webhooks.NewPublisher(st),
		Broker: broker,
		Log:    log,
	}
	s.lookup = lookup
	s.events = brokerEvents{broker}
	s.Pipeline = sched.NewPipeline(cfg, st, lookup, log, s.events)
	perMin := cfg.GenerateRatePerMin
	if perMin <= 0 {
		perMin = 10
	}
	s.genLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
	return s, nil
}

func (s *Server) pipeline() *sched.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Pipeline
}

func (s *Server) configSnapshot() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Cfg
}

// updateConfig applies a mutation to a copy of the config, validates it, and
// swaps in a pipeline built from the new settings. In-flight runs keep the
// config they started with.
func (s *Server) updateConfig(apply func(*config.Config)) (config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.Cfg
	apply(&next)
	if err := next.Validate(); err != nil {
		return config.Config{}, err
	}
	s.Cfg = next
	s.Pipeline = sched.NewPipeline(next, s.Store, s.lookup, s.Log, s.events)
	return next, nil
}

// brokerEvents bridges pipeline events onto the stream broker.
type brokerEvents struct {
	broker EventBroker
}

func (b brokerEvents) Emit(runID, eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["runId"] = runID
	b.broker.Publish(runID, RunEvent{Type: eventType, Data: data})
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Log, 10)
}
