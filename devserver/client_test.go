package devserver

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/grafana/sobek"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malivvan/hellowebview/bridge"
)

const transportStubs = `
var sent = [];
var sockets = [];
function WebSocket(url) { this.url = url; this.readyState = 1; sockets.push(this); }
WebSocket.prototype.send = function(text) { sent.push(text); };
window.location = {protocol: "http:", host: "127.0.0.1:8080"};
var document = {visibilityState: "visible", addEventListener: function() {}};
`

// evalOverTransport runs the page side of the websocket transport and
// feeds it one eval frame, returning the frame it answers with.
func evalOverTransport(t *testing.T, script string) frame {
	t.Helper()
	var transport bytes.Buffer
	require.NoError(t, transportTmpl.Execute(&transport, struct{ SocketPath string }{socketPath}))

	rt := sobek.New()
	require.NoError(t, rt.Set("window", rt.GlobalObject()))
	_, err := rt.RunString(transportStubs)
	require.NoError(t, err)
	_, err = rt.RunString(transport.String())
	require.NoError(t, err)

	request, err := json.Marshal(frame{Type: frameEval, ID: 7, Script: script})
	require.NoError(t, err)
	require.NoError(t, rt.Set("request", string(request)))
	last, err := rt.RunString(`sockets[0].onmessage({data: request}); sent[sent.length - 1];`)
	require.NoError(t, err)

	var reply frame
	require.NoError(t, json.Unmarshal([]byte(last.String()), &reply))
	return reply
}

func TestTransport_RepliesWithValue(t *testing.T) {
	reply := evalOverTransport(t, `({answer: 42})`)
	assert.Equal(t, frameResult, reply.Type)
	assert.Equal(t, uint64(7), reply.ID)

	v, err := decodeResult(reply)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": 42.0}, v)
}

func TestTransport_UnserialisableValueIsUnsupported(t *testing.T) {
	reply := evalOverTransport(t, `var o = {}; o.self = o; o`)
	assert.Equal(t, frameResult, reply.Type)
	assert.Equal(t, uint64(7), reply.ID)
	assert.Equal(t, "unsupported", reply.Kind)
	assert.NotEmpty(t, reply.Error)

	_, err := decodeResult(reply)
	assert.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)
}

func TestTransport_ThrowIsException(t *testing.T) {
	reply := evalOverTransport(t, `throw new Error("boom")`)
	assert.Equal(t, "exception", reply.Kind)

	_, err := decodeResult(reply)
	assert.ErrorIs(t, err, bridge.ErrJavascriptException)
}
