package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// Responder answers discovery probes with the host's TCP address.
type Responder struct {
	bindAddress string
	tcpPort     int
	logger      *zap.Logger
	conn        net.PacketConn
}

// NewResponder creates a responder bound to bindAddress (e.g.
// "0.0.0.0:2901") that advertises the port of hostTCPAddress.
func NewResponder(bindAddress, hostTCPAddress string, logger *zap.Logger) (*Responder, error) {
	port, err := portOf(hostTCPAddress)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		bindAddress: bindAddress,
		tcpPort:     port,
		logger:      logger,
	}, nil
}

// Listen binds the UDP socket.
func (r *Responder) Listen() error {
	if r.conn != nil {
		return nil
	}
	conn, err := net.ListenPacket("udp", r.bindAddress)
	if err != nil {
		return fmt.Errorf("discovery: bind %s: %w", r.bindAddress, err)
	}
	r.conn = conn
	r.logger.Info("listening for discovery probes", zap.String("address", conn.LocalAddr().String()))
	return nil
}

// Addr returns the bound UDP address, or nil before Listen.
func (r *Responder) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve answers probes until ctx is cancelled.
func (r *Responder) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("discovery read failed", zap.Error(err))
			continue
		}
		if string(buf[:n]) != ProbeMessage {
			continue
		}

		udpFrom, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		r.reply(udpFrom)
	}
}

func (r *Responder) reply(to *net.UDPAddr) {
	log := r.logger.With(zap.String("worker", to.String()))
	log.Info("discovery probe received")

	ip, err := LocalIPFor(to)
	if err != nil {
		log.Warn("cannot determine local address for worker", zap.Error(err))
		return
	}

	address := net.JoinHostPort(ip.String(), strconv.Itoa(r.tcpPort))
	if _, err := r.conn.WriteTo([]byte(ReplyPrefix+address), to); err != nil {
		log.Error("discovery reply failed", zap.Error(err))
		return
	}
	log.Info("discovery reply sent", zap.String("host", address))
}
