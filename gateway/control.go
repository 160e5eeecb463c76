package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/buildinfo"
)

// ErrCommandRejected reports that the gateway answered a scan command
// with an error status, as opposed to the request not getting through.
// Callers use the distinction to tell an unhealthy reader from an
// unreachable one.
var ErrCommandRejected = errors.New("gateway: command rejected")

// DefaultCommandTimeout bounds scan commands when the config does not
// set one.
const DefaultCommandTimeout = 10 * time.Second

// Commander issues start/stop scan commands against the gateway's REST
// surface. It holds no state; the session controller owns the resulting
// scanning/idle state machine.
type Commander struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCommander creates a command client for the given gateway base URL.
func NewCommander(baseURL string, timeout time.Duration, logger *zap.Logger) *Commander {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commander{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// StartScan asks the reader to begin scanning.
func (c *Commander) StartScan(ctx context.Context) error {
	return c.post(ctx, "/rfid-scan/start")
}

// StopScan asks the reader to stop scanning.
func (c *Commander) StopScan(ctx context.Context) error {
	return c.post(ctx, "/rfid-scan/stop")
}

func (c *Commander) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("gateway: building %s request: %w", path, err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		c.logger.Warn("gateway rejected scan command",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s returned status %d", ErrCommandRejected, path, resp.StatusCode)
	}
	return nil
}
