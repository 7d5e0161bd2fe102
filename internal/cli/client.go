package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/swarmgate/internal/config"
)

var cliClient = &http.Client{Timeout: 10 * time.Second}

// serverURL resolves the running core's base URL from the engagement config.
func serverURL() (string, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", err
	}
	addr := cfg.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr, nil
}

// postJSON posts to the running core and decodes the JSON reply into out.
// Non-2xx replies still decode; the caller inspects the status.
func postJSON(path string, body any, out any) (int, error) {
	base, err := serverURL()
	if err != nil {
		return 0, err
	}

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		buf = bytes.NewReader(data)
	}

	resp, err := cliClient.Post(base+path, "application/json", buf)
	if err != nil {
		return 0, fmt.Errorf("core unreachable (is `swarmgate serve` running?): %w", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode reply: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func getJSON(path string, out any) (int, error) {
	base, err := serverURL()
	if err != nil {
		return 0, err
	}
	resp, err := cliClient.Get(base + path)
	if err != nil {
		return 0, fmt.Errorf("core unreachable (is `swarmgate serve` running?): %w", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode reply: %w", err)
		}
	}
	return resp.StatusCode, nil
}
