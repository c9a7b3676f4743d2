package sqldb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"github.com/gridflex/flexsim/internal/pkg/msg"
)

func newHandler(t *testing.T) (Handler, *msg.PubSub) {
	pid, _ := uuid.NewUUID()
	pub := msg.NewPublisher(pid)
	h, err := New("./db_config_test.json", pub)
	assert.NilError(t, err)
	return h, pub
}

func TestGetConfig(t *testing.T) {
	h, _ := newHandler(t)

	assert.Equal(t, h.config.Port, 3306)
	assert.Equal(t, h.config.Server, "localhost")
	assert.Equal(t, h.config.Database, "flexsim")
}

func TestDSN(t *testing.T) {
	h, _ := newHandler(t)

	assert.Equal(t, h.DSN(), "flexsim:flexsim@tcp(localhost:3306)/flexsim")
}

func TestActivityRedirect(t *testing.T) {
	h, pub := newHandler(t)

	pub.Publish(msg.Activity, "EXECUTION: Program 'peak_shave' run.")

	select {
	case m := <-h.inbox:
		assert.Equal(t, m.Topic(), msg.Activity)
		assert.Equal(t, m.Payload().(string), "EXECUTION: Program 'peak_shave' run.")
	case <-time.After(time.Second):
		t.Fatal("activity message never reached handler inbox")
	}
}

func TestStatusNotSubscribed(t *testing.T) {
	h, pub := newHandler(t)

	pub.Publish(msg.Status, "ignored")

	select {
	case m := <-h.inbox:
		t.Fatalf("unexpected message on inbox: %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
