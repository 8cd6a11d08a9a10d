package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects event logs. Tests use it to keep output quiet or to
// capture events.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

// Log writes one JSON line per event. The caller's map is not modified.
func Log(event string, kv map[string]any) {
	rec := make(map[string]any, len(kv)+2)
	for k, v := range kv {
		rec[k] = v
	}
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["event"] = event
	b, err := json.Marshal(rec)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"ts": rec["ts"], "event": event, "marshal_error": err.Error()})
	}

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(b))
}
