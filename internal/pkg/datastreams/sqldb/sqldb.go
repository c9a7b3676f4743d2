// Package sqldb writes program activity records into a MySQL audit table.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridflex/flexsim/internal/pkg/msg"

	_ "github.com/go-sql-driver/mysql"
)

type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
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

	chActivity := system.Subscribe(pid, msg.Activity)
	go redirectMsg(chActivity, inbox)

	stop := make(chan bool)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   stop,
	}, nil
}

func (h *Handler) Stop() {
	h.stop <- true
}

// DSN renders the MySQL connection string from the handler config.
func (h Handler) DSN() string {
	return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v",
		h.config.Username, h.config.Password, h.config.Server, h.config.Port, h.config.Database)
}

func (h Handler) DB() (*sql.DB, error) {
	db, err := sql.Open("mysql", h.DSN())
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (h Handler) Process() {
	log.Println("[SQL client] Process Started")
	db, err := h.DB()
	if err != nil {
		log.Printf("[SQL client] open: %v", err)
		return
	}
	defer db.Close()

	if err := initDBTables(db); err != nil {
		log.Printf("[SQL client] init tables: %v", err)
		return
	}

loop:
	for {
		select {
		case m := <-h.inbox:
			if m.Topic() != msg.Activity {
				continue
			}
			record, ok := m.Payload().(string)
			if !ok {
				continue
			}
			insertActivity(db, m.PID(), record)

		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL client] Process Shutdown")
}

func initDBTables(db *sql.DB) error {
	sqlStatement := `CREATE TABLE IF NOT EXISTS activity(
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		source VARCHAR(36),
		record TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP)`
	_, err := db.Exec(sqlStatement)
	return err
}

func insertActivity(db *sql.DB, source uuid.UUID, record string) {
	sqlStatement := `INSERT INTO activity (source, record) VALUES (?, ?)`

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqlStatement, source.String(), record); err != nil {
		log.Printf("[SQL client] insert activity: %s", err)
	}
}
