package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProberConfig configures a discovery attempt.
type ProberConfig struct {
	Port             int
	BroadcastAddress string
	Timeout          time.Duration
	Logger           *zap.Logger
}

// DefaultProberConfig broadcasts to 255.255.255.255:2901 and waits 5s.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Port:             DefaultPort,
		BroadcastAddress: DefaultBroadcastAddress,
		Timeout:          DefaultTimeout,
	}
}

func (c ProberConfig) withDefaults() ProberConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = DefaultBroadcastAddress
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Discover broadcasts one probe and returns the host address from the first
// well-formed reply. Foreign datagrams are ignored until the timeout, after
// which ErrNoHost is returned.
func Discover(ctx context.Context, cfg ProberConfig) (string, error) {
	cfg = cfg.withDefaults()

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return "", fmt.Errorf("discovery: bind probe socket: %w", err)
	}
	defer conn.Close()

	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.BroadcastAddress, strconv.Itoa(cfg.Port)))
	if err != nil {
		return "", fmt.Errorf("discovery: resolve %s: %w", cfg.BroadcastAddress, err)
	}

	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	cfg.Logger.Info("broadcasting discovery probe", zap.String("target", target.String()))
	if _, err := conn.WriteTo([]byte(ProbeMessage), target); err != nil {
		return "", fmt.Errorf("discovery: send probe: %w", err)
	}

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return "", ErrNoHost
			}
			return "", fmt.Errorf("discovery: read reply: %w", err)
		}

		msg := string(buf[:n])
		if !strings.HasPrefix(msg, ReplyPrefix) {
			cfg.Logger.Debug("ignoring foreign datagram", zap.String("from", from.String()))
			continue
		}
		address := strings.TrimSpace(strings.TrimPrefix(msg, ReplyPrefix))
		if _, _, err := net.SplitHostPort(address); err != nil {
			cfg.Logger.Warn("ignoring malformed discovery reply",
				zap.String("from", from.String()),
				zap.String("payload", msg))
			continue
		}

		cfg.Logger.Info("host discovered",
			zap.String("host", address),
			zap.String("responder", from.String()))
		return address, nil
	}
}
