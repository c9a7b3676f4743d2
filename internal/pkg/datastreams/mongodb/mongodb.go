// Package mongodb persists circuit state snapshots into MongoDB. Each
// publisher keeps one upserted document so the collection always reflects
// the most recent solve.
package mongodb

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gridflex/flexsim/internal/pkg/msg"
)

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	URI      string `json:"URI"`
	Port     string `json:"Port"`
	Database string `json:"Database"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}

	pid, _ := uuid.NewUUID()

	inbox := make(chan msg.Msg, 50)

	chStatus := system.Subscribe(pid, msg.Status)
	go redirectMsg(chStatus, inbox)

	stop := make(chan bool)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   stop,
	}, nil
}

func msgToBSON(m msg.Msg) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"pid":  m.PID().String(),
			"data": m.Payload(),
		}},
	}
}

func (h *Handler) Stop() {
	h.stop <- true
}

func (h Handler) Process() {
	log.Println("[Mongo] Process Started")
	client, err := mongo.NewClient(options.Client().ApplyURI(h.config.URI + ":" + h.config.Port))
	if err != nil {
		log.Printf("[Mongo] client: %v", err)
		return
	}

	ctx := context.TODO()
	if err := client.Connect(ctx); err != nil {
		log.Printf("[Mongo] connect: %v", err)
		return
	}
	defer client.Disconnect(ctx)

	states := client.Database(h.config.Database).Collection("circuitState")
	states.Drop(ctx)

loop:
	for {
		select {
		case m := <-h.inbox:
			if m.Topic() != msg.Status {
				continue
			}
			opts := options.Update().SetUpsert(true)
			_, err := states.UpdateOne(
				ctx,
				bson.M{"pid": m.PID().String()},
				msgToBSON(m),
				opts,
			)
			if err != nil {
				log.Printf("[Mongo] upsert state: %v", err)
			}

		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
}
