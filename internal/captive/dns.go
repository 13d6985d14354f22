// Package captive answers DNS queries on the provisioning access point so
// that every hostname resolves to the portal.
package captive

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/dns/dnsmessage"
)

const (
	maxPacketSize = 512
	// maxPerServe bounds the work done by one ServePending call.
	maxPerServe = 32
	defaultTTL  = 60
	pollWait    = 2 * time.Millisecond
)

// Stats counts responder activity.
type Stats struct {
	Queries   int64 `json:"queries"`
	Answered  int64 `json:"answered"`
	Malformed int64 `json:"malformed"`
}

// Responder resolves every A query to a fixed address.
type Responder struct {
	conn   net.PacketConn
	answer [4]byte
	ttl    uint32
	logger zerolog.Logger

	mutex  sync.Mutex
	stats  Stats
	closed bool
}

// Listen opens a UDP socket on addr (":53" on a real access point).
func Listen(addr string, answer net.IP, logger zerolog.Logger) (*Responder, error) {
	ip4 := answer.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("captive answer %q is not an IPv4 address", answer)
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for DNS on %s: %w", addr, err)
	}

	r := &Responder{conn: conn, ttl: defaultTTL, logger: logger}
	copy(r.answer[:], ip4)

	logger.Info().Str("addr", conn.LocalAddr().String()).Str("answer", ip4.String()).Msg("Captive DNS listening")
	return r, nil
}

// Addr returns the bound address.
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// ServePending answers queries already queued on the socket and returns
// without waiting for new ones. It returns the number answered.
func (r *Responder) ServePending() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return 0
	}

	buf := make([]byte, maxPacketSize)
	answered := 0

	for i := 0; i < maxPerServe; i++ {
		if err := r.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
			r.logger.Debug().Err(err).Msg("failed to set DNS read deadline")
			return answered
		}

		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				r.logger.Debug().Err(err).Msg("DNS read failed")
			}
			return answered
		}
		r.stats.Queries++

		resp, err := r.respond(buf[:n])
		if err != nil {
			r.stats.Malformed++
			r.logger.Debug().Err(err).Str("from", from.String()).Msg("Dropping DNS packet")
			continue
		}

		if _, err := r.conn.WriteTo(resp, from); err != nil {
			r.logger.Debug().Err(err).Str("from", from.String()).Msg("DNS write failed")
			continue
		}
		r.stats.Answered++
		answered++
	}

	return answered
}

// respond builds the reply to a single query packet.
func (r *Responder) respond(packet []byte) ([]byte, error) {
	var p dnsmessage.Parser
	hdr, err := p.Start(packet)
	if err != nil {
		return nil, fmt.Errorf("bad header: %w", err)
	}
	if hdr.Response {
		return nil, errors.New("not a query")
	}

	q, err := p.Question()
	if err != nil {
		return nil, fmt.Errorf("bad question: %w", err)
	}

	b := dnsmessage.NewBuilder(make([]byte, 0, maxPacketSize), dnsmessage.Header{
		ID:                 hdr.ID,
		Response:           true,
		Authoritative:      true,
		RecursionDesired:   hdr.RecursionDesired,
		RecursionAvailable: false,
		RCode:              dnsmessage.RCodeSuccess,
	})
	b.EnableCompression()

	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(q); err != nil {
		return nil, err
	}
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}

	if q.Class == dnsmessage.ClassINET && (q.Type == dnsmessage.TypeA || q.Type == dnsmessage.TypeALL) {
		err := b.AResource(dnsmessage.ResourceHeader{
			Name:  q.Name,
			Type:  dnsmessage.TypeA,
			Class: dnsmessage.ClassINET,
			TTL:   r.ttl,
		}, dnsmessage.AResource{A: r.answer})
		if err != nil {
			return nil, err
		}
	}

	return b.Finish()
}

func (r *Responder) Stats() Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.stats
}

// Close releases the socket. Safe to call more than once.
func (r *Responder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}
