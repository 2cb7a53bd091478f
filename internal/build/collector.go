package build

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxRecordBytes bounds one posted record. Larger bodies are refused and
// counted, never truncated.
const maxRecordBytes = 8 << 20

// collector receives side-channel findings posted to /vuln on a loopback
// port for the span of one driver run.
type collector struct {
	ln  net.Listener
	srv *http.Server

	mu      sync.Mutex
	records []string
	dropped int
}

func newCollector() (*collector, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	c := &collector{ln: ln}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /vuln", c.handle)
	c.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return c, nil
}

func (c *collector) Port() string {
	return strconv.Itoa(c.ln.Addr().(*net.TCPAddr).Port)
}

func (c *collector) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}
	c.mu.Lock()
	c.records = append(c.records, string(body))
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (c *collector) serve() error {
	if err := c.srv.Serve(c.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdown waits for in-flight posts so none are lost.
func (c *collector) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.srv.Shutdown(ctx)
}

// Records returns the bodies in arrival order.
func (c *collector) Records() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.records...)
}

// Dropped is the number of posts that could not be read whole.
func (c *collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
