package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"decoration-service/config"
	"decoration-service/internal/broker"
	"decoration-service/internal/client"
	"decoration-service/internal/models"
	"decoration-service/internal/sequence"
	"decoration-service/internal/util"

	"go.uber.org/zap"
)

// decorator is the shop-floor client: it loads an order, applies one mutation
// optimistically and prints the authoritative outcome, or watches an order.
func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "decoration service base URL")
		actor     = flag.String("actor", os.Getenv("USER"), "who performs the action")
		action    = flag.String("action", "watch", "produce | dispatch | receive | approve | watch")
		order     = flag.String("order", "", "order number")
		item      = flag.String("item", "", "item id")
		component = flag.String("component", "", "component id")
		team      = flag.String("team", "", "decoration team")
		quantity  = flag.Int("qty", 0, "quantity produced (produce)")
		stockUsed = flag.Int("stock", 0, "part of qty taken from stock (produce)")
		notes     = flag.String("notes", "", "production notes (produce)")
		vehicle   = flag.Int("vehicle", 0, "vehicle index (receive, approve)")
		retries   = flag.Int("retries", 1, "resends of a mutation that got no reply, under the same request id")
	)
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if *order == "" {
		log.Fatal("-order is required")
	}
	if !cfg.Kafka.Enabled {
		log.Fatal("the client talks to the service through Kafka; set KAFKA_ENABLED=true")
	}

	teams, err := config.LoadSequence(cfg.Business.SequenceFile, cfg.Business.TeamSequence)
	if err != nil {
		log.Fatalf("Failed to load team sequence: %v", err)
	}
	policy, err := sequence.NewPolicy(teams)
	if err != nil {
		log.Fatalf("Invalid team sequence: %v", err)
	}

	transport := broker.NewKafkaTransport(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.TopicEvents)
	defer transport.Close()

	session, err := client.NewSession(transport, client.NewHTTPLoader(*serverURL, 10*time.Second), policy, client.Options{
		Actor:          *actor,
		ConfirmTimeout: cfg.Business.ConfirmTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := session.Load(ctx, *order); err != nil {
		log.Fatalf("Failed to load order %s: %v", *order, err)
	}

	key := models.ComponentKey{OrderNumber: *order, ItemID: *item, ComponentID: *component}
	var comp *models.Component

	switch *action {
	case "watch":
		session.Watch(func(k models.ComponentKey, c *models.Component) {
			logger.Info("Component changed",
				zap.String("component", k.String()),
				zap.Int64("version", c.Version))
			printJSON(c)
		})
		<-ctx.Done()
		return
	case "produce":
		comp, err = session.ReportProduction(ctx, key, *team, *quantity, *stockUsed, *notes)
	case "dispatch":
		comp, err = session.Dispatch(ctx, key, *team)
	case "receive":
		comp, err = session.MarkVehicleReceived(ctx, key, *team, *vehicle)
	case "approve":
		comp, err = session.MarkVehicleApproved(ctx, key, *team, *vehicle)
	default:
		log.Fatalf("unknown action %q", *action)
	}

	for attempt := 0; attempt < *retries; attempt++ {
		var unconfirmed *client.UnconfirmedError
		if !errors.As(err, &unconfirmed) {
			break
		}
		logger.Warn("No reply, retrying",
			zap.String("request_id", unconfirmed.RequestID),
			zap.Int("attempt", attempt+1))
		comp, err = session.Retry(ctx, unconfirmed.RequestID)
	}

	if err != nil {
		logger.Error("Mutation failed",
			zap.String("action", *action),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err))
		os.Exit(1)
	}
	printJSON(comp)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
