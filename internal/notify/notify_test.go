package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ptpshot/internal/logic/capture"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestMulti(t *testing.T) {
	var a, b []uint32
	m := Multi{
		capture.NotifierFunc(func(ev capture.TransferEvent) { a = append(a, ev.ObjectID) }),
		nil,
		capture.NotifierFunc(func(ev capture.TransferEvent) { b = append(b, ev.ObjectID) }),
	}
	m.Publish(capture.TransferEvent{ObjectID: 1})
	m.Publish(capture.TransferEvent{ObjectID: 2})

	assert.Equal(t, []uint32{1, 2}, a)
	assert.Equal(t, []uint32{1, 2}, b)
}

func TestNATSPublisher(t *testing.T) {
	srv := runServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("ptpshot.images", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := ConnectNATS(srv.ClientURL(), "ptpshot.images")
	require.NoError(t, err)

	p.Publish(capture.TransferEvent{
		Kind:     capture.EventImageAvailable,
		ObjectID: 0xffffc001,
		Mode:     capture.ModePhoto,
		Path:     "/tmp/DSC00001.JPG",
		Size:     1024,
		Time:     time.Now(),
	})
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		var ev capture.TransferEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, capture.EventImageAvailable, ev.Kind)
		assert.Equal(t, uint32(0xffffc001), ev.ObjectID)
		assert.Equal(t, "/tmp/DSC00001.JPG", ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNATSPublisher_BorrowedConnectionStaysOpen(t *testing.T) {
	srv := runServer(t)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(nc, "x")
	require.NoError(t, p.Close())
	assert.True(t, nc.IsConnected())
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "x", nats.Timeout(200*time.Millisecond))
	assert.ErrorContains(t, err, "connect to NATS")
}
