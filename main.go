package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dooh-web/landmark-detector/config"
	"github.com/dooh-web/landmark-detector/detections"
	"github.com/dooh-web/landmark-detector/models"
	"github.com/dooh-web/landmark-detector/render"
)

const shutdownTimeout = 10 * time.Second

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithField("level", cfg.Log.Level).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func logTimings(logger logrus.FieldLogger, t *models.ProcessingTimings) {
	logger.WithFields(logrus.Fields{
		"request_id":   t.RequestID,
		"image_decode": t.ImageDecode,
		"letterbox":    t.Letterbox,
		"pack":         t.Pack,
		"inference":    t.Inference,
		"decode":       t.Decode,
		"suppress":     t.Suppress,
		"total":        t.Total,
	}).Debug("processing times")
}

// onnxFactory opens one onnxruntime session per pooled engine.
func onnxFactory(model config.ModelConfig) EngineFactory {
	return func() (PooledEngine, error) {
		engine := detections.NewOnnxEngine(detections.OnnxConfig{
			ModelPath:      model.Path,
			InputName:      model.InputName,
			OutputName:     model.OutputName,
			IntraOpThreads: model.IntraOpThreads,
			InterOpThreads: model.InterOpThreads,
		})
		if err := engine.Load(); err != nil {
			return nil, err
		}
		return engine, nil
	}
}

type AppState struct {
	Config   config.Config
	Pool     *EnginePool
	Detector detections.Config
	Labels   render.Labels
	Style    render.Style
	Logger   *logrus.Logger
}

func newAppState(cfg config.Config, pool *EnginePool, logger *logrus.Logger) (*AppState, error) {
	detectorCfg, err := cfg.DetectorConfig()
	if err != nil {
		return nil, err
	}
	style, err := cfg.Style()
	if err != nil {
		return nil, err
	}
	return &AppState{
		Config:   cfg,
		Pool:     pool,
		Detector: detectorCfg,
		Labels:   cfg.Labels,
		Style:    style,
		Logger:   logger,
	}, nil
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", handleDetect(state)).Methods("POST")
	r.HandleFunc("/annotate", handleAnnotate(state)).Methods("POST")
	state.addMonitoringRoutes(r)
	return r
}

func main() {
	configPath := flag.String("config", os.Getenv("DETECTOR_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logger := newLogger(cfg)

	libPath, err := detections.ResolveLibraryPath(cfg.Model.LibraryPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to locate onnxruntime")
	}
	if libPath == "" {
		logger.Warn("No onnxruntime library found in lib/ or third_party/, using the system loader")
	}
	if err := detections.InitRuntime(libPath); err != nil {
		logger.WithError(err).Fatal("Failed to initialize ONNX environment")
	}
	defer detections.DestroyRuntime()

	pool, err := NewEnginePool(onnxFactory(cfg.Model), PoolOptions{
		Size:              cfg.Pool.Size,
		AcquireTimeout:    cfg.Pool.AcquireTimeout,
		HealthCheckPeriod: cfg.Pool.HealthCheckPeriod,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create engine pool")
	}
	defer pool.Destroy()

	state, err := newAppState(cfg, pool, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid detector settings")
	}

	srv := &http.Server{
		Handler:      newRouter(state),
		Addr:         cfg.Server.Addr,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    srv.Addr,
			"model":   cfg.Model.Path,
			"variant": cfg.Detector.Variant,
			"schema":  state.Detector.Schema.String(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Graceful shutdown failed")
	}
}
