package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridflex/flexsim/internal/pkg/alert"
	"github.com/gridflex/flexsim/internal/pkg/circuit"
	"github.com/gridflex/flexsim/internal/pkg/datastreams/mongodb"
	"github.com/gridflex/flexsim/internal/pkg/datastreams/natshandler"
	"github.com/gridflex/flexsim/internal/pkg/datastreams/sqldb"
	"github.com/gridflex/flexsim/internal/pkg/reports"
	"github.com/gridflex/flexsim/internal/pkg/telemetry"
	"github.com/gridflex/flexsim/internal/pkg/webservice"
)

func main() {
	log.Println("[Main] Starting flexsim v0.1.0")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[Main] Building Circuit")
	c, err := circuit.New("./config/circuit.json")
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Initial Power Flow")
	result := c.SolveAndManage(10)
	log.Println("[Main]", result.Status)

	log.Println("[Main] Building Report Writer")
	w, err := reports.NewWriter("./reports")
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Building Alert Notifier")
	n, err := alert.New("./config/alert.json")
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Connecting Datastreams")
	linkDatastreams(c)
	linkTelemetry(c)

	log.Println("[Main] Building Webservice")
	s, err := webservice.New("./config/webservice.json", c, w, n)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := s.ListenAndServe(); err != nil {
			log.Fatalf("[Main] webservice: %v", err)
		}
	}()

	<-sigs
	log.Println("[Main] Stopping system")
}

// linkDatastreams starts each configured sink. A missing config file
// just means that sink is not deployed.
func linkDatastreams(c *circuit.Circuit) {
	if _, err := os.Stat("./config/nats.json"); err == nil {
		h, err := natshandler.New("./config/nats.json", c)
		if err != nil {
			panic(err)
		}
		go h.Process()
	}

	if _, err := os.Stat("./config/mongodb.json"); err == nil {
		h, err := mongodb.New("./config/mongodb.json", c)
		if err != nil {
			panic(err)
		}
		go h.Process()
	}

	if _, err := os.Stat("./config/mysql.json"); err == nil {
		h, err := sqldb.New("./config/mysql.json", c)
		if err != nil {
			panic(err)
		}
		go h.Process()
	}
}

func linkTelemetry(c *circuit.Circuit) {
	if _, err := os.Stat("./config/telemetry.json"); err != nil {
		return
	}
	svc, err := telemetry.New("./config/telemetry.json", c)
	if err != nil {
		panic(err)
	}
	go svc.Process()
}
