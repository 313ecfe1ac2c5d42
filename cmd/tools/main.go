package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/clock"
	"github.com/pauricg23/SOIL-TEMP/internal/config"
	db "github.com/pauricg23/SOIL-TEMP/internal/db"
	"github.com/pauricg23/SOIL-TEMP/internal/logging"
	"github.com/pauricg23/SOIL-TEMP/internal/migrate"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/repository"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/service"
	"github.com/pauricg23/SOIL-TEMP/internal/mqtt"
	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

const appName = "soil-tools"

var version = "dev"

const usage = `usage: %s <command> [args]
  migrate                  apply pending schema migrations
  record <value> [sensor]  append a reading directly to the database
  publish <value> [sensor] publish a telemetry message to the MQTT broker
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "migrate":
		return withDB(ctx, cfg, logger, func(*service.Service) error {
			fmt.Println("migrations applied")
			return nil
		})
	case "record":
		value, sensor, err := readingArgs(args[1:], cfg.DefaultSensorID)
		if err != nil {
			return err
		}
		return withDB(ctx, cfg, logger, func(svc *service.Service) error {
			r, err := svc.Record(ctx, value, service.WithSensorID(sensor), service.WithSource("cli"))
			if err != nil {
				return err
			}
			fmt.Printf("recorded %.2f for %s at %s\n", r.Value, r.SensorID, r.Time.Format(time.RFC3339))
			return nil
		})
	case "publish":
		value, sensor, err := readingArgs(args[1:], cfg.DefaultSensorID)
		if err != nil {
			return err
		}
		return publish(ctx, cfg, logger, value, sensor)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// withDB opens the database, applies migrations and hands fn a service.
func withDB(ctx context.Context, cfg config.Config, logger *slog.Logger, fn func(*service.Service) error) error {
	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn); err != nil {
		return err
	}
	c := clock.System{}
	svc := service.New(repository.NewStore(conn, c), c,
		service.WithLogger(logger),
		service.WithDefaultSensor(cfg.DefaultSensorID),
	)
	return fn(svc)
}

func publish(ctx context.Context, cfg config.Config, logger *slog.Logger, value float64, sensor string) error {
	if !cfg.MQTTEnabled() {
		return fmt.Errorf("no broker configured (set SOIL_MQTT_BROKER)")
	}
	pub := mqtt.NewPublisher(mqtt.BrokerFromConfig(cfg), logger)
	defer pub.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pub.Connect(connectCtx); err != nil {
		return err
	}

	t := shared.Telemetry{SensorID: sensor, Timestamp: time.Now().UTC(), Temperature: &value}
	if err := pub.PublishTelemetry(t); err != nil {
		return err
	}
	fmt.Printf("published %.2f to %s\n", value, shared.TelemetryTopic(sensor))
	return nil
}

func readingArgs(args []string, defaultSensor string) (float64, string, error) {
	if len(args) < 1 {
		return 0, "", fmt.Errorf("missing <value>")
	}
	value, err := service.ParseValue(args[0])
	if err != nil {
		return 0, "", err
	}
	sensor := defaultSensor
	if len(args) > 1 && args[1] != "" {
		sensor = args[1]
	}
	return value, sensor, nil
}
