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
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/juju/clock"
	"golang.org/x/net/dns/dnsmessage"
)

// DefaultFallbackServer is the public resolver asked when the system answers are unusable.
const DefaultFallbackServer = "8.8.8.8:53"

const (
	defaultCacheEntries = 512
	fallbackTimeout     = 5 * time.Second
)

// HostResolver maps a host name to IP addresses. [net.Resolver] implements it.
type HostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// FallbackResolver is a [HostResolver] that trusts the system resolver only when it returns
// at least one public unicast address. Otherwise the IPv4 addresses are looked up through
// Fallback and cached for their TTL. If that also yields nothing, the system answer is
// returned as it was.
type FallbackResolver struct {
	// System is the resolver normally used. Required.
	System HostResolver
	// Fallback queries the public resolver. Nil disables the fallback.
	Fallback RoundTripper
	// Logger receives lookup diagnostics (optional).
	Logger *slog.Logger
	// Clock expires cached answers. Defaults to the wall clock.
	Clock clock.Clock

	cache *lru.Cache
}

var _ HostResolver = (*FallbackResolver)(nil)

type cachedAnswer struct {
	addrs   []netip.Addr
	expires time.Time
}

// NewFallbackResolver creates a [FallbackResolver] asking fallback for hosts the system
// resolver cannot resolve usefully.
func NewFallbackResolver(system HostResolver, fallback RoundTripper, logger *slog.Logger, clk clock.Clock) (*FallbackResolver, error) {
	if system == nil {
		return nil, errors.New("system resolver must not be nil")
	}
	cache, err := lru.New(defaultCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create dns cache: %w", err)
	}
	return &FallbackResolver{System: system, Fallback: fallback, Logger: logger, Clock: clk, cache: cache}, nil
}

// LookupNetIP implements [HostResolver].
func (r *FallbackResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	if host == "localhost" || host == "127.0.0.1" {
		return []netip.Addr{netip.AddrFrom4([4]byte{127, 0, 0, 1})}, nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	resolved, sysErr := r.System.LookupNetIP(ctx, network, host)
	if hasPublicAddr(resolved) || r.Fallback == nil || network == "ip6" {
		r.logger().Debug("System resolver answered", "host", host, "addrs", resolved)
		return resolved, sysErr
	}

	fallback, err := r.lookupFallback(ctx, host)
	if err != nil {
		r.logger().Debug("Fallback lookup failed", "host", host, "error", err)
	}
	if len(fallback) > 0 {
		r.logger().Debug("Fallback resolver answered", "host", host, "addrs", fallback, "system", resolved)
		return fallback, nil
	}
	return resolved, sysErr
}

func (r *FallbackResolver) lookupFallback(ctx context.Context, host string) ([]netip.Addr, error) {
	key := strings.ToLower(strings.TrimSuffix(host, "."))
	now := r.clock().Now()
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			entry := v.(cachedAnswer)
			if now.Before(entry.expires) {
				return entry.addrs, nil
			}
			r.cache.Remove(key)
		}
	}

	q, err := NewQuestion(key, dnsmessage.TypeA)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, fallbackTimeout)
	defer cancel()
	msg, err := r.Fallback.RoundTrip(ctx, *q)
	if err != nil {
		return nil, err
	}
	if msg.RCode != dnsmessage.RCodeSuccess {
		return nil, fmt.Errorf("got %v (%d)", msg.RCode.String(), msg.RCode)
	}

	var addrs []netip.Addr
	var ttl uint32
	for _, answer := range msg.Answers {
		rr, ok := answer.Body.(*dnsmessage.AResource)
		if !ok {
			continue
		}
		if len(addrs) == 0 || answer.Header.TTL < ttl {
			ttl = answer.Header.TTL
		}
		addrs = append(addrs, netip.AddrFrom4(rr.A))
	}
	if len(addrs) > 0 && ttl > 0 && r.cache != nil {
		r.cache.Add(key, cachedAnswer{addrs: addrs, expires: now.Add(time.Duration(ttl) * time.Second)})
	}
	return addrs, nil
}

func (r *FallbackResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *FallbackResolver) clock() clock.Clock {
	if r.Clock != nil {
		return r.Clock
	}
	return clock.WallClock
}

// hasPublicAddr reports whether any address is usable on the public internet, that is not
// unspecified, loopback, link-local, private or multicast.
func hasPublicAddr(addrs []netip.Addr) bool {
	for _, addr := range addrs {
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
			addr.IsPrivate() || addr.IsMulticast() || addr.IsInterfaceLocalMulticast() {
			continue
		}
		return true
	}
	return false
}
