// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dns

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"

	"github.com/Jigsaw-Code/outline-apptransport/transport"
	"golang.org/x/net/dns/dnsmessage"
)

// RoundTripper executes a single DNS transaction, returning the response for a question.
type RoundTripper interface {
	RoundTrip(ctx context.Context, q dnsmessage.Question) (*dnsmessage.Message, error)
}

// FuncRoundTripper is a [RoundTripper] that uses the given function for the round trip.
type FuncRoundTripper func(ctx context.Context, q dnsmessage.Question) (*dnsmessage.Message, error)

var _ RoundTripper = (FuncRoundTripper)(nil)

// RoundTrip implements the [RoundTripper] interface.
func (f FuncRoundTripper) RoundTrip(ctx context.Context, q dnsmessage.Question) (*dnsmessage.Message, error) {
	return f(ctx, q)
}

// NewQuestion creates an internet-class question for domain.
func NewQuestion(domain string, qtype dnsmessage.Type) (*dnsmessage.Question, error) {
	if len(domain) == 0 || domain[len(domain)-1] != '.' {
		domain += "."
	}
	name, err := dnsmessage.NewName(domain)
	if err != nil {
		return nil, fmt.Errorf("cannot parse domain name: %w", err)
	}
	return &dnsmessage.Question{Name: name, Type: qtype, Class: dnsmessage.ClassINET}, nil
}

const (
	maxMsgSize = 65535
	// Largest UDP payload we advertise and accept, as recommended by https://dnsflagday.net/2020/.
	maxUDPPayload = 1232
)

// ErrTruncated is returned by UDP round trips when the answer did not fit in a datagram.
var ErrTruncated = errors.New("dns response truncated")

func sameName(x, y dnsmessage.Name) bool {
	if x.Length != y.Length {
		return false
	}
	for i := 0; i < int(x.Length); i++ {
		a, b := x.Data[i], y.Data[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// checkResponse matches a response to its request, per RFC 5452 sections 4.2 and 4.3.
func checkResponse(id uint16, q dnsmessage.Question, msg *dnsmessage.Message) error {
	if !msg.Header.Response {
		return errors.New("response bit not set")
	}
	if msg.Header.ID != id {
		return fmt.Errorf("message id does not match: expected %v, got %v", id, msg.Header.ID)
	}
	if len(msg.Questions) == 0 {
		return errors.New("no questions in response")
	}
	got := msg.Questions[0]
	if got.Type != q.Type || got.Class != q.Class || !sameName(got.Name, q.Name) {
		return errors.New("response question doesn't match request")
	}
	return nil
}

// packQuery builds a recursive query for q with an EDNS0 payload size, appending it to buf.
func packQuery(id uint16, q dnsmessage.Question, buf []byte) ([]byte, error) {
	b := dnsmessage.NewBuilder(buf, dnsmessage.Header{ID: id, RecursionDesired: true})
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(q); err != nil {
		return nil, err
	}
	if err := b.StartAdditionals(); err != nil {
		return nil, err
	}
	var opt dnsmessage.ResourceHeader
	if err := opt.SetEDNS0(maxUDPPayload, dnsmessage.RCodeSuccess, false); err != nil {
		return nil, err
	}
	if err := b.OPTResource(opt, dnsmessage.OPTResource{}); err != nil {
		return nil, err
	}
	return b.Finish()
}

// exchangeStream sends q over a stream connection, framing messages with a 2-byte length.
func exchangeStream(conn io.ReadWriter, q dnsmessage.Question) (*dnsmessage.Message, error) {
	id := uint16(rand.Uint32())
	buf, err := packQuery(id, q, make([]byte, 2, 514))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxMsgSize {
		return nil, fmt.Errorf("message too large: %v bytes", len(buf))
	}
	binary.BigEndian.PutUint16(buf[:2], uint16(len(buf)-2))
	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	var size uint16
	if err := binary.Read(conn, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	buf = make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	var msg dnsmessage.Message
	if err := msg.Unpack(buf); err != nil {
		return nil, fmt.Errorf("failed to unpack DNS response: %w", err)
	}
	if err := checkResponse(id, q, &msg); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &msg, nil
}

// exchangePacket sends q as a datagram. Datagrams that do not answer the query are skipped.
func exchangePacket(conn io.ReadWriter, q dnsmessage.Question) (*dnsmessage.Message, error) {
	id := uint16(rand.Uint32())
	buf, err := packQuery(id, q, make([]byte, 0, 512))
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	buf = make([]byte, maxUDPPayload)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		var msg dnsmessage.Message
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		if err := checkResponse(id, q, &msg); err != nil {
			continue
		}
		if msg.Header.Truncated {
			return nil, ErrTruncated
		}
		return &msg, nil
	}
}

// NewTCPRoundTripper creates a [RoundTripper] for DNS-over-TCP (RFC 1035 section 4.2.2) that
// opens a new connection to resolverAddr with sd for every question.
func NewTCPRoundTripper(sd transport.StreamDialer, resolverAddr string) RoundTripper {
	return FuncRoundTripper(func(ctx context.Context, q dnsmessage.Question) (*dnsmessage.Message, error) {
		conn, err := sd.DialStream(ctx, resolverAddr)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		return exchangeStream(conn, q)
	})
}

// NewUDPRoundTripper creates a [RoundTripper] for DNS-over-UDP (RFC 1035 section 4.2.1) that
// uses a new socket for every question. Truncated answers yield [ErrTruncated].
// A nil dialer means the zero [net.Dialer].
func NewUDPRoundTripper(dialer *net.Dialer, resolverAddr string) RoundTripper {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return FuncRoundTripper(func(ctx context.Context, q dnsmessage.Question) (*dnsmessage.Message, error) {
		conn, err := dialer.DialContext(ctx, "udp", resolverAddr)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		return exchangePacket(conn, q)
	})
}

// WithTCPOnTruncation returns a [RoundTripper] that asks udp first and repeats the question
// over tcp when the answer was truncated.
func WithTCPOnTruncation(udp, tcp RoundTripper) RoundTripper {
	return FuncRoundTripper(func(ctx context.Context, q dnsmessage.Question) (*dnsmessage.Message, error) {
		msg, err := udp.RoundTrip(ctx, q)
		if errors.Is(err, ErrTruncated) {
			return tcp.RoundTrip(ctx, q)
		}
		return msg, err
	})
}
