// Copyright 2019 Jigsaw Operations LLC
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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// StreamConn is a net.Conn that allows for closing only the reader or writer end of
// it, supporting half-open state.
type StreamConn interface {
	net.Conn
	// Closes the Read end of the connection, allowing for the release of resources.
	// No more reads should happen.
	CloseRead() error
	// Closes the Write end of the connection. An EOF or FIN signal may be
	// sent to the connection target.
	CloseWrite() error
}

// StreamDialer provides a way to establish stream connections to a destination.
type StreamDialer interface {
	// DialStream connects to `raddr`.
	// `raddr` has the form `host:port`, where `host` can be a domain name or IP address.
	DialStream(ctx context.Context, raddr string) (StreamConn, error)
}

// FuncStreamDialer is a [StreamDialer] that uses the given function to dial.
type FuncStreamDialer func(ctx context.Context, addr string) (StreamConn, error)

var _ StreamDialer = (FuncStreamDialer)(nil)

// DialStream implements the [StreamDialer] interface.
func (f FuncStreamDialer) DialStream(ctx context.Context, addr string) (StreamConn, error) {
	return f(ctx, addr)
}

// Resolver maps host names to IP addresses. [net.Resolver] implements it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// TCPDialer is a [StreamDialer] that dials TCP connections and tunes the resulting sockets.
// It plays the role of a socket factory for the HTTP stack.
type TCPDialer struct {
	// Dialer is the base dialer. Its Timeout and KeepAlive fields are honored.
	Dialer net.Dialer
	// Resolver, if set, resolves host names instead of the Dialer. Addresses are tried in order.
	Resolver Resolver
	// BufferSize, if positive, sets both the kernel read and write buffer sizes of each socket.
	BufferSize int
	// ReadTimeout, if positive, bounds every individual Read on the connection.
	ReadTimeout time.Duration
	// WriteTimeout, if positive, bounds every individual Write on the connection.
	WriteTimeout time.Duration
}

var _ StreamDialer = (*TCPDialer)(nil)

// DialStream implements [StreamDialer].DialStream.
func (d *TCPDialer) DialStream(ctx context.Context, addr string) (StreamConn, error) {
	conn, err := d.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("dialer returned unexpected connection type %T", conn)
	}
	if d.BufferSize > 0 {
		if err := errors.Join(tcpConn.SetReadBuffer(d.BufferSize), tcpConn.SetWriteBuffer(d.BufferSize)); err != nil {
			tcpConn.Close()
			return nil, fmt.Errorf("failed to set socket buffers: %w", err)
		}
	}
	return WithIOTimeouts(tcpConn, d.ReadTimeout, d.WriteTimeout), nil
}

func (d *TCPDialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	if d.Resolver == nil {
		return d.Dialer.DialContext(ctx, "tcp", addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %v: %w", addr, err)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return d.Dialer.DialContext(ctx, "tcp", addr)
	}
	ips, err := d.Resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("failed to resolve %v: %w", host, err)}
	}
	if len(ips) == 0 {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("no addresses for %v", host)}
	}
	var errs []error
	for _, ip := range ips {
		conn, err := d.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.Unmap().String(), port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// DialContext dials the address with the signature expected by [net/http.Transport.DialContext].
func (d *TCPDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("protocol not supported: %v", network)
	}
	return d.DialStream(ctx, addr)
}
