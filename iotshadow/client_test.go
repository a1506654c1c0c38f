package iotshadow

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/iot-device-sdk-go/rrclient"
	"github.com/ggoodman/iot-device-sdk-go/transport"
	"github.com/ggoodman/iot-device-sdk-go/transport/memory"
)

// fakeShadows is a minimal shadow service: one reported/desired document per
// topic prefix, versioned, with update/delta and update/documents events.
type fakeShadows struct {
	mu   sync.Mutex
	svc  *memory.Transport
	docs map[string]*fakeDoc
}

type fakeDoc struct {
	state   ShadowState
	version int64
}

func startFakeShadows(t *testing.T, b *memory.Broker) *fakeShadows {
	t.Helper()
	f := &fakeShadows{svc: b.Connect(), docs: make(map[string]*fakeDoc)}
	t.Cleanup(func() { _ = f.svc.Close() })
	_, err := f.svc.Attach(transport.HandlerFuncs{OnPublish: f.handle})
	require.NoError(t, err)
	for _, op := range []string{"get", "update", "delete"} {
		require.NoError(t, f.svc.Subscribe(context.Background(), "$aws/things/+/shadow/"+op, transport.AtLeastOnce))
		require.NoError(t, f.svc.Subscribe(context.Background(), "$aws/things/+/shadow/name/+/"+op, transport.AtLeastOnce))
	}
	return f
}

func (f *fakeShadows) handle(topic string, payload []byte) {
	i := strings.LastIndexByte(topic, '/')
	prefix, op := topic[:i], topic[i+1:]

	var req struct {
		ClientToken string       `json:"clientToken"`
		State       *ShadowState `json:"state"`
		Version     *int64       `json:"version"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		f.reply(topic+"/rejected", map[string]any{"code": 400, "message": "bad json"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[prefix]

	reject := func(code int, msg string) {
		f.reply(topic+"/rejected", map[string]any{"clientToken": req.ClientToken, "code": code, "message": msg})
	}

	switch op {
	case "get":
		if doc == nil {
			reject(404, "No shadow exists with name: "+prefix)
			return
		}
		state := map[string]any{"desired": doc.state.Desired, "reported": doc.state.Reported}
		if d := delta(doc.state); len(d) > 0 {
			state["delta"] = d
		}
		f.reply(topic+"/accepted", map[string]any{"clientToken": req.ClientToken, "state": state, "version": doc.version, "timestamp": 1700000000})
	case "update":
		if doc != nil && req.Version != nil && *req.Version != doc.version {
			reject(409, "Version conflict")
			return
		}
		if doc == nil {
			doc = &fakeDoc{}
			f.docs[prefix] = doc
		}
		previous := *doc
		if req.State != nil {
			doc.state.Desired = merge(doc.state.Desired, req.State.Desired)
			doc.state.Reported = merge(doc.state.Reported, req.State.Reported)
		}
		doc.version++
		f.reply(topic+"/accepted", map[string]any{"clientToken": req.ClientToken, "state": req.State, "version": doc.version, "timestamp": 1700000000})
		f.reply(prefix+"/update/documents", map[string]any{
			"previous":  map[string]any{"state": previous.state, "version": previous.version},
			"current":   map[string]any{"state": doc.state, "version": doc.version},
			"timestamp": 1700000000,
		})
		if d := delta(doc.state); len(d) > 0 {
			f.reply(prefix+"/update/delta", map[string]any{"state": d, "version": doc.version, "timestamp": 1700000000})
		}
	case "delete":
		if doc == nil {
			reject(404, "No shadow exists with name: "+prefix)
			return
		}
		delete(f.docs, prefix)
		f.reply(topic+"/accepted", map[string]any{"clientToken": req.ClientToken, "version": doc.version, "timestamp": 1700000000})
	}
}

func (f *fakeShadows) reply(topic string, body any) {
	payload, _ := json.Marshal(body)
	_ = f.svc.Publish(context.Background(), topic, payload, transport.AtLeastOnce)
}

func merge(dst, src map[string]any) map[string]any {
	if dst == nil && len(src) > 0 {
		dst = make(map[string]any)
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func delta(s ShadowState) map[string]any {
	d := map[string]any{}
	for k, v := range s.Desired {
		if rv, ok := s.Reported[k]; !ok || rv != v {
			d[k] = v
		}
	}
	return d
}

func newShadowClient(t *testing.T) (*memory.Broker, *Client) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := memory.NewBroker()
	tr := b.Connect()
	rr, err := rrclient.New(tr, rrclient.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rr.Close(context.Background())
		_ = tr.Close()
	})
	return b, New(rr, WithLogger(logger), WithTimeout(2*time.Second))
}

func TestShadow_UpdateGetDelete(t *testing.T) {
	b, c := newShadowClient(t)
	startFakeShadows(t, b)
	ctx := context.Background()

	got, err := c.GetShadow(ctx, GetShadowRequest{ThingName: "t1"})
	require.NoError(t, err)
	require.NotNil(t, got.Rejected)
	require.Equal(t, 404, got.Rejected.Code)
	require.ErrorContains(t, got.Rejected, "404")

	token := "my-token"
	upd, err := c.UpdateShadow(ctx, UpdateShadowRequest{
		ThingName:   "t1",
		ClientToken: &token,
		State:       &ShadowState{Desired: map[string]any{"color": "red"}},
	})
	require.NoError(t, err)
	require.NotNil(t, upd.Accepted)
	require.Equal(t, "my-token", *upd.Accepted.ClientToken)
	require.Equal(t, int64(1), *upd.Accepted.Version)
	require.Equal(t, "my-token", upd.Response.CorrelationToken)

	got, err = c.GetShadow(ctx, GetShadowRequest{ThingName: "t1"})
	require.NoError(t, err)
	require.NotNil(t, got.Accepted)
	require.Equal(t, "red", got.Accepted.State.Desired["color"])
	require.Equal(t, "red", got.Accepted.State.Delta["color"])
	require.Equal(t, time.Unix(1700000000, 0).UTC(), got.Accepted.Timestamp.Time)

	stale := int64(7)
	upd, err = c.UpdateShadow(ctx, UpdateShadowRequest{ThingName: "t1", Version: &stale, State: &ShadowState{}})
	require.NoError(t, err)
	require.NotNil(t, upd.Rejected)
	require.Equal(t, 409, upd.Rejected.Code)

	del, err := c.DeleteShadow(ctx, DeleteShadowRequest{ThingName: "t1"})
	require.NoError(t, err)
	require.NotNil(t, del.Accepted)
	require.Equal(t, int64(1), *del.Accepted.Version)
}

func TestShadow_NamedShadowsAreIndependent(t *testing.T) {
	b, c := newShadowClient(t)
	startFakeShadows(t, b)
	ctx := context.Background()

	_, err := c.UpdateNamedShadow(ctx, UpdateNamedShadowRequest{
		ThingName:  "t1",
		ShadowName: "config",
		State:      &ShadowState{Reported: map[string]any{"fw": "1.2"}},
	})
	require.NoError(t, err)

	named, err := c.GetNamedShadow(ctx, GetNamedShadowRequest{ThingName: "t1", ShadowName: "config"})
	require.NoError(t, err)
	require.NotNil(t, named.Accepted)
	require.Equal(t, "1.2", named.Accepted.State.Reported["fw"])

	classic, err := c.GetShadow(ctx, GetShadowRequest{ThingName: "t1"})
	require.NoError(t, err)
	require.NotNil(t, classic.Rejected)

	del, err := c.DeleteNamedShadow(ctx, DeleteNamedShadowRequest{ThingName: "t1", ShadowName: "config"})
	require.NoError(t, err)
	require.NotNil(t, del.Accepted)
}

func TestShadow_ConcurrentUpdatesAreCorrelated(t *testing.T) {
	b, c := newShadowClient(t)
	startFakeShadows(t, b)

	const n = 8
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.UpdateShadow(context.Background(), UpdateShadowRequest{
				ThingName: "t1",
				State:     &ShadowState{Reported: map[string]any{"i": i}},
			})
			if err == nil && res.Accepted != nil && res.Accepted.ClientToken != nil {
				tokens[i] = *res.Accepted.ClientToken
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, tok := range tokens {
		require.NotEmpty(t, tok)
		require.False(t, seen[tok], "token %s resolved twice", tok)
		seen[tok] = true
	}
}

func TestShadow_Events(t *testing.T) {
	b, c := newShadowClient(t)
	startFakeShadows(t, b)
	ctx := context.Background()

	deltas := make(chan *ShadowDeltaUpdatedEvent, 4)
	docs := make(chan *ShadowUpdatedEvent, 4)
	established := make(chan struct{}, 2)
	onStatus := func(_ context.Context, ev rrclient.StatusEvent) {
		if ev.Status == rrclient.StatusEstablished {
			established <- struct{}{}
		}
	}

	ds, err := c.SubscribeToShadowDeltaUpdatedEvents(ctx, "t1", "", Handlers[ShadowDeltaUpdatedEvent]{
		OnEvent:  func(_ context.Context, ev *ShadowDeltaUpdatedEvent) { deltas <- ev },
		OnStatus: onStatus,
	})
	require.NoError(t, err)
	require.Equal(t, "$aws/things/t1/shadow/update/delta", ds.Filter())

	us, err := c.SubscribeToShadowUpdatedEvents(ctx, "t1", "", Handlers[ShadowUpdatedEvent]{
		OnEvent:  func(_ context.Context, ev *ShadowUpdatedEvent) { docs <- ev },
		OnStatus: onStatus,
	})
	require.NoError(t, err)

	for j := 0; j < 2; j++ {
		select {
		case <-established:
		case <-time.After(2 * time.Second):
			t.Fatal("streams not established")
		}
	}

	_, err = c.UpdateShadow(ctx, UpdateShadowRequest{
		ThingName: "t1",
		State:     &ShadowState{Desired: map[string]any{"on": true}},
	})
	require.NoError(t, err)

	select {
	case ev := <-deltas:
		require.Equal(t, true, ev.State["on"])
		require.Equal(t, int64(1), *ev.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no delta event")
	}
	select {
	case ev := <-docs:
		require.Equal(t, int64(0), *ev.Previous.Version)
		require.Equal(t, int64(1), *ev.Current.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no documents event")
	}

	require.NoError(t, ds.Close(ctx))
	require.NoError(t, us.Close(ctx))
}

func TestShadow_InvalidNames(t *testing.T) {
	_, c := newShadowClient(t)
	ctx := context.Background()

	_, err := c.GetShadow(ctx, GetShadowRequest{})
	require.Equal(t, rrclient.KindInvalidRequest, rrclient.KindOf(err))

	_, err = c.GetNamedShadow(ctx, GetNamedShadowRequest{ThingName: "t1", ShadowName: "a/b"})
	require.ErrorIs(t, err, rrclient.ErrInvalidRequest)

	_, err = c.SubscribeToShadowUpdatedEvents(ctx, "t+", "", Handlers[ShadowUpdatedEvent]{
		OnEvent: func(context.Context, *ShadowUpdatedEvent) {},
	})
	require.ErrorIs(t, err, rrclient.ErrInvalidRequest)
}

func TestShadow_UpdateIgnoresEarlyDeltaWithSameToken(t *testing.T) {
	b, c := newShadowClient(t)

	svc := b.Connect()
	t.Cleanup(func() { _ = svc.Close() })
	_, err := svc.Attach(transport.HandlerFuncs{OnPublish: func(topic string, payload []byte) {
		var req struct {
			ClientToken string `json:"clientToken"`
		}
		_ = json.Unmarshal(payload, &req)
		echo := []byte(`{"clientToken":"` + req.ClientToken + `","version":3}`)
		_ = svc.Publish(context.Background(), topic+"/delta", echo, transport.AtLeastOnce)
		_ = svc.Publish(context.Background(), topic+"/accepted", echo, transport.AtLeastOnce)
	}})
	require.NoError(t, err)
	require.NoError(t, svc.Subscribe(context.Background(), "$aws/things/t1/shadow/update", transport.AtLeastOnce))

	// A delta stream makes the delta topic reach this client at all.
	_, err = c.SubscribeToShadowDeltaUpdatedEvents(context.Background(), "t1", "", Handlers[ShadowDeltaUpdatedEvent]{
		OnEvent: func(context.Context, *ShadowDeltaUpdatedEvent) {},
	})
	require.NoError(t, err)

	res, err := c.UpdateShadow(context.Background(), UpdateShadowRequest{ThingName: "t1", State: &ShadowState{}})
	require.NoError(t, err)
	require.NotNil(t, res.Accepted)
	require.Equal(t, int64(3), *res.Accepted.Version)
}
