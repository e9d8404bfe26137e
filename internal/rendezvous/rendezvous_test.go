package rendezvous

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscription struct {
	payloads [][]byte
	idx      int
}

func (f *fakeSubscription) Receive(context.Context) ([]byte, error) {
	if f.idx >= len(f.payloads) {
		return nil, errors.New("no more messages")
	}
	p := f.payloads[f.idx]
	f.idx++
	return p, nil
}

func TestDecodeRegistration_ValidSink(t *testing.T) {
	reg, err := DecodeRegistration([]byte(`{"kind":"sink","hostname":"controller.example.com","pid":123}`))
	require.NoError(t, err)
	assert.Equal(t, KindSink, reg.Kind)
	assert.Equal(t, 123, reg.Pid)
}

func TestDecodeRegistration_UnknownKindRejected(t *testing.T) {
	_, err := DecodeRegistration([]byte(`{"kind":"ghost","hostname":"h","pid":1}`))
	require.Error(t, err)
}

func TestDecodeRegistration_NonUTF8Rejected(t *testing.T) {
	_, err := DecodeRegistration([]byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
}

func TestDecodeRegistration_MalformedJSONRejected(t *testing.T) {
	_, err := DecodeRegistration([]byte(`{not json`))
	require.Error(t, err)
}

func TestWait_HappyPathOneSinkOneMeister(t *testing.T) {
	sub := &fakeSubscription{payloads: [][]byte{
		[]byte(`{"kind":"sink","hostname":"controller.example.com","pid":100}`),
		[]byte(`{"kind":"meister","hostname":"controller.example.com","pid":200}`),
	}}

	registry, err := Wait(context.Background(), sub, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, registry.Sink.Pid)
	require.Len(t, registry.Meister, 1)
	assert.Equal(t, 200, registry.Meister[0].Pid)
}

func TestWait_MeisterBeforeSinkOrderIndependent(t *testing.T) {
	sub := &fakeSubscription{payloads: [][]byte{
		[]byte(`{"kind":"meister","hostname":"remote-a","pid":201}`),
		[]byte(`{"kind":"meister","hostname":"remote-b","pid":202}`),
		[]byte(`{"kind":"sink","hostname":"controller.example.com","pid":100}`),
	}}

	registry, err := Wait(context.Background(), sub, 2)
	require.NoError(t, err)
	assert.Equal(t, 100, registry.Sink.Pid)
	assert.Len(t, registry.Meister, 2)
}

func TestWait_MalformedMessageSkippedNotFatal(t *testing.T) {
	sub := &fakeSubscription{payloads: [][]byte{
		{0xff, 0xfe},
		[]byte(`{"kind":"sink","hostname":"controller.example.com","pid":100}`),
		[]byte(`{"kind":"meister","hostname":"controller.example.com","pid":200}`),
	}}

	registry, err := Wait(context.Background(), sub, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, registry.Sink.Pid)
	require.Len(t, registry.Meister, 1)
}

func TestWait_ZeroExpectedMeistersCompletesOnSinkAlone(t *testing.T) {
	sub := &fakeSubscription{payloads: [][]byte{
		[]byte(`{"kind":"sink","hostname":"controller.example.com","pid":100}`),
	}}

	registry, err := Wait(context.Background(), sub, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, registry.Sink.Pid)
	assert.Empty(t, registry.Meister)
}
