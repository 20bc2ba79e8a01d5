package devserver

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/malivvan/hellowebview/bridge"
)

const (
	clientPath = "/__bridge/client.js"
	socketPath = "/__bridge/ws"
)

var transportTmpl = template.Must(template.New("transport.js").Parse(`(function(window) {
const proto = window.location.protocol === "https:" ? "wss:" : "ws:";
const socket = new WebSocket(proto + "//" + window.location.host + "{{.SocketPath}}");
const outbox = [];
function sendText(text) {
	if (socket.readyState === 1) socket.send(text);
	else outbox.push(text);
}
function send(frame) {
	sendText(JSON.stringify(frame));
}
function sendVisibility() {
	send({type: "visibility", visible: document.visibilityState === "visible"});
}
socket.onopen = function() {
	sendVisibility();
	while (outbox.length) socket.send(outbox.shift());
};
socket.onmessage = function(ev) {
	const f = JSON.parse(ev.data);
	if (f.type === "reload") {
		window.location.reload();
		return;
	}
	if (f.type !== "eval") return;
	let reply;
	try {
		const value = (0, eval)(f.script);
		if (value === undefined || value === null) reply = {type: "result", id: f.id, kind: "unsupported"};
		else reply = {type: "result", id: f.id, value: value};
	} catch (e) {
		reply = {type: "result", id: f.id, kind: "exception", error: String(e)};
	}
	let text;
	try {
		text = JSON.stringify(reply);
	} catch (e) {
		text = JSON.stringify({type: "result", id: f.id, kind: "unsupported", error: String(e)});
	}
	sendText(text);
};
document.addEventListener("visibilitychange", sendVisibility);
window.__devserverPost = function(message) { send({type: "message", data: message}); };
})(window);
`))

// renderClient builds the script every page loads first: the websocket
// transport, the bridge shim on top of it, then the user scripts.
func renderClient(initData map[string]string, userScripts []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := transportTmpl.Execute(&buf, struct{ SocketPath string }{socketPath}); err != nil {
		return nil, err
	}
	shim, err := bridge.Script(bridge.ScriptOptions{
		PostMessage:        "window.__devserverPost(message);",
		InitialisationData: initData,
	})
	if err != nil {
		return nil, err
	}
	buf.WriteString(shim)
	for _, script := range userScripts {
		buf.WriteString("\n")
		buf.WriteString(script)
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

var clientTag = []byte(`<script src="` + clientPath + `"></script>`)

// injectClient places the client script tag right after the opening head
// tag, or at the start of the document when there is none.
func injectClient(html []byte) []byte {
	lower := strings.ToLower(string(html))
	at := 0
	for _, open := range []string{"<head>", "<head "} {
		i := strings.Index(lower, open)
		if i < 0 {
			continue
		}
		if end := strings.IndexByte(lower[i:], '>'); end >= 0 {
			at = i + end + 1
			break
		}
	}
	out := make([]byte, 0, len(html)+len(clientTag))
	out = append(out, html[:at]...)
	out = append(out, clientTag...)
	out = append(out, html[at:]...)
	return out
}
