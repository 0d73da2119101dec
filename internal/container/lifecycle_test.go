package container

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-go/infrastructure/logger"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
	running  bool
}

func (f *fakeComponent) Start(context.Context) error {
	*f.log = append(*f.log, "start:"+f.name)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeComponent) Stop() error {
	*f.log = append(*f.log, "stop:"+f.name)
	f.running = false
	return f.stopErr
}

func (f *fakeComponent) Health() error {
	if !f.running {
		return errors.New(f.name + " down")
	}
	return nil
}

func TestLifecycleOrder(t *testing.T) {
	var calls []string
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &calls})
	m.Register(&fakeComponent{name: "b", log: &calls})

	require.NoError(t, m.StartAll(context.Background()))
	assert.NoError(t, m.CheckHealth())
	require.NoError(t, m.StopAll())

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, calls)
	assert.Error(t, m.CheckHealth())
}

func TestLifecycleRollbackOnStartFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &calls})
	m.Register(&fakeComponent{name: "b", log: &calls, startErr: boom})
	m.Register(&fakeComponent{name: "c", log: &calls})

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, calls)
}

func TestLifecycleStopAllCombinesErrors(t *testing.T) {
	var calls []string
	e1, e2 := errors.New("e1"), errors.New("e2")
	m := NewLifecycleManager()
	m.Register(&fakeComponent{name: "a", log: &calls, stopErr: e1})
	m.Register(&fakeComponent{name: "b", log: &calls, stopErr: e2})

	err := m.StopAll()
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestHTTPServerComponent(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	c := newHTTPServerComponent("probe", "127.0.0.1:0", h, logger.Nop())
	assert.Error(t, c.Health())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Health())

	resp, err := http.Get("http://" + c.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.Error(t, c.Health())
}

func TestHTTPServerComponentListenError(t *testing.T) {
	first := newHTTPServerComponent("first", "127.0.0.1:0", http.NotFoundHandler(), logger.Nop())
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()

	second := newHTTPServerComponent("second", first.Addr(), http.NotFoundHandler(), logger.Nop())
	assert.Error(t, second.Start(context.Background()))
}
