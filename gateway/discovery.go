package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// GatewayServiceType is the mDNS service the reader gateway advertises.
const GatewayServiceType = "_rfid-gateway._tcp"

const mdnsDomain = "local."

// ErrGatewayNotFound reports that discovery finished without finding a
// gateway instance on the local network.
var ErrGatewayNotFound = errors.New("gateway: no gateway discovered")

// Discover browses mDNS for a reader gateway and returns its HTTP base
// URL. Used when no gateway address is configured explicitly; the first
// instance found wins.
func Discover(ctx context.Context, timeout time.Duration, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("gateway: initializing mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(browseCtx, GatewayServiceType, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("gateway: mdns browse: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrGatewayNotFound
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := fmt.Sprintf("http://%s:%d", entry.AddrIPv4[0], entry.Port)
			logger.Info("gateway discovered via mdns",
				zap.String("instance", entry.Instance),
				zap.String("addr", addr))
			return addr, nil
		case <-browseCtx.Done():
			return "", ErrGatewayNotFound
		}
	}
}
