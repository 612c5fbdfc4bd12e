package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	opts := &natsserver.Options{Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return srv, nc
}

type job struct {
	Name  string `json:"document_id"`
	Value int    `json:"chunks"`
}

func TestPublish(t *testing.T) {
	_, nc := startTestNATS(t)

	// Subscribe raw to verify Publish output
	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("test.pub", ch)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	err = Publish(context.Background(), nc, "test.pub", job{Name: "hello", Value: 1})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		var p job
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Name != "hello" || p.Value != 1 {
			t.Fatalf("unexpected job: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribe(t *testing.T) {
	_, nc := startTestNATS(t)

	ch := make(chan job, 1)
	sub, err := Subscribe(nc, "test.sub", func(ctx context.Context, p job) {
		ch <- p
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	// Publish via our helper
	err = Publish(context.Background(), nc, "test.sub", job{Name: "world", Value: 42})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-ch:
		if p.Name != "world" || p.Value != 42 {
			t.Fatalf("unexpected: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeDropsMalformedReal(t *testing.T) {
	_, nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := Subscribe(nc, "test.malformed", func(ctx context.Context, p job) {
		called <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	// Send malformed JSON
	nc.Publish("test.malformed", []byte("{bad"))
	nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	case <-time.After(100 * time.Millisecond):
		// expected
	}
}

func TestRequest(t *testing.T) {
	_, nc := startTestNATS(t)

	// Set up responder
	sub, err := nc.Subscribe("test.req", func(msg *nats.Msg) {
		var req job
		json.Unmarshal(msg.Data, &req)
		resp := job{Name: req.Name + "-resp", Value: req.Value * 2}
		data, _ := json.Marshal(resp)
		msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[job, job](context.Background(), nc, "test.req", job{Name: "test", Value: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Name != "test-resp" || resp.Value != 10 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRequestTimeout(t *testing.T) {
	_, nc := startTestNATS(t)

	// No responder → timeout
	_, err := Request[job, job](context.Background(), nc, "test.noreply", job{Name: "x", Value: 1})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPublishMarshalError(t *testing.T) {
	_, nc := startTestNATS(t)

	// chan is not JSON-marshalable
	err := Publish(context.Background(), nc, "test.err", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestRequestMarshalError(t *testing.T) {
	_, nc := startTestNATS(t)

	_, err := Request[chan int, job](context.Background(), nc, "test.err", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestRequestUnmarshalError(t *testing.T) {
	_, nc := startTestNATS(t)

	// Responder sends invalid JSON
	sub, err := nc.Subscribe("test.badjson", func(msg *nats.Msg) {
		msg.Respond([]byte("{invalid"))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = Request[job, job](context.Background(), nc, "test.badjson", job{Name: "x", Value: 1})
	if err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestPublishWithHeaderAndSubscribeMsg(t *testing.T) {
	_, nc := startTestNATS(t)

	got := make(chan string, 1)
	sub, err := SubscribeMsg(nc, "test.hdr", func(ctx context.Context, j job, msg *nats.Msg) {
		got <- msg.Header.Get("X-Retry-Count") + ":" + j.Name
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	h := nats.Header{}
	h.Set("X-Retry-Count", "2")
	if err := PublishWithHeader(context.Background(), nc, "test.hdr", job{Name: "doc-1"}, h); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-got:
		if v != "2:doc-1" {
			t.Fatalf("unexpected %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRespond(t *testing.T) {
	_, nc := startTestNATS(t)

	sub, err := SubscribeMsg(nc, "test.respond", func(ctx context.Context, j job, msg *nats.Msg) {
		_ = Respond(msg, job{Name: j.Name, Value: 7})
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := Request[job, job](ctx, nc, "test.respond", job{Name: "doc-9"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Name != "doc-9" || resp.Value != 7 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRespondWithoutReplyIsNoop(t *testing.T) {
	if err := Respond(&nats.Msg{Subject: "x"}, job{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
