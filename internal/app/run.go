package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/clock"
	"github.com/pauricg23/SOIL-TEMP/internal/config"
	db "github.com/pauricg23/SOIL-TEMP/internal/db"
	httpapi "github.com/pauricg23/SOIL-TEMP/internal/httpapi"
	"github.com/pauricg23/SOIL-TEMP/internal/metrics"
	"github.com/pauricg23/SOIL-TEMP/internal/migrate"
	soil "github.com/pauricg23/SOIL-TEMP/internal/modules/soil"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/repository"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/service"
	soilviews "github.com/pauricg23/SOIL-TEMP/internal/modules/soil/views"
	"github.com/pauricg23/SOIL-TEMP/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"logSQL", cfg.LogSQL,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"defaultSensorID", cfg.DefaultSensorID,
	)

	dbConn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn); err != nil {
		return err
	}
	logger.Info("database ready")

	if err := soilviews.LoadTemplates(); err != nil {
		return err
	}

	m := metrics.New()
	c := clock.System{}
	store := repository.NewStore(dbConn, c)
	svc := service.New(store, c,
		service.WithMetrics(m),
		service.WithLogger(logger),
		service.WithDefaultSensor(cfg.DefaultSensorID),
	)

	// Typed nils would defeat the nil checks downstream, so the interfaces
	// stay unset when MQTT is disabled.
	var (
		subscriber *mqtt.Subscriber
		connState  httpapi.ConnectionState
		telemetry  soil.MQTTSubscriber
	)
	if cfg.MQTTEnabled() {
		subscriber = mqtt.NewSubscriber(mqtt.BrokerFromConfig(cfg), cfg.MQTTTopic, logger)
		connState = subscriber
		telemetry = subscriber
	}

	mux := httpapi.NewMux(dbConn, m, connState, svc)
	// The handler is set before Connect so the subscription made on CONNACK
	// has somewhere to deliver queued messages.
	soil.RegisterFeature(mux, svc, telemetry)

	if subscriber != nil {
		// Short timeout so a dead broker does not block startup; paho keeps
		// retrying in the background.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = subscriber.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	} else {
		logger.Info("mqtt disabled: no broker configured")
	}

	srv := httpapi.NewServer(cfg, mux, logger, m)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if subscriber != nil {
			subscriber.Disconnect()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if subscriber != nil {
		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
