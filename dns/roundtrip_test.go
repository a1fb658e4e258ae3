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
	"io"
	"net"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-apptransport/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

// answerA builds the response to a packed query, answering A questions with ip.
func answerA(t *testing.T, query []byte, ip [4]byte, truncated bool) []byte {
	var req dnsmessage.Message
	if !assert.NoError(t, req.Unpack(query)) || !assert.NotEmpty(t, req.Questions) {
		return nil
	}
	resp := dnsmessage.Message{
		Header:    dnsmessage.Header{ID: req.ID, Response: true, RecursionAvailable: true, Truncated: truncated},
		Questions: req.Questions[:1],
	}
	if !truncated {
		resp.Answers = []dnsmessage.Resource{{
			Header: dnsmessage.ResourceHeader{Name: req.Questions[0].Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 60},
			Body:   &dnsmessage.AResource{A: ip},
		}}
	}
	packed, err := resp.Pack()
	assert.NoError(t, err)
	return packed
}

func serveUDP(t *testing.T, ip [4]byte, truncated bool) string {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			conn.WriteTo(answerA(t, buf[:n], ip, truncated), addr)
		}
	}()
	return conn.LocalAddr().String()
}

func serveTCP(t *testing.T, ip [4]byte) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var size uint16
				if err := binary.Read(conn, binary.BigEndian, &size); err != nil {
					return
				}
				query := make([]byte, size)
				if _, err := io.ReadFull(conn, query); err != nil {
					return
				}
				resp := answerA(t, query, ip, false)
				frame := binary.BigEndian.AppendUint16(nil, uint16(len(resp)))
				conn.Write(append(frame, resp...))
			}()
		}
	}()
	return listener.Addr().String()
}

func firstA(t *testing.T, msg *dnsmessage.Message) [4]byte {
	t.Helper()
	require.NotEmpty(t, msg.Answers)
	rr, ok := msg.Answers[0].Body.(*dnsmessage.AResource)
	require.True(t, ok)
	return rr.A
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewQuestion(t *testing.T) {
	q, err := NewQuestion("example.com", dnsmessage.TypeAAAA)
	require.NoError(t, err)
	require.Equal(t, "example.com.", q.Name.String())
	require.Equal(t, dnsmessage.TypeAAAA, q.Type)
	require.Equal(t, dnsmessage.ClassINET, q.Class)

	q, err = NewQuestion("example.com.", dnsmessage.TypeA)
	require.NoError(t, err)
	require.Equal(t, "example.com.", q.Name.String())
}

func TestUDPRoundTripper(t *testing.T) {
	addr := serveUDP(t, [4]byte{203, 0, 113, 7}, false)
	q, err := NewQuestion("img.example.com", dnsmessage.TypeA)
	require.NoError(t, err)
	msg, err := NewUDPRoundTripper(&net.Dialer{}, addr).RoundTrip(testContext(t), *q)
	require.NoError(t, err)
	require.Equal(t, [4]byte{203, 0, 113, 7}, firstA(t, msg))
}

func TestTCPRoundTripper(t *testing.T) {
	addr := serveTCP(t, [4]byte{198, 51, 100, 1})
	q, err := NewQuestion("IMG.example.com", dnsmessage.TypeA)
	require.NoError(t, err)
	msg, err := NewTCPRoundTripper(&transport.TCPDialer{}, addr).RoundTrip(testContext(t), *q)
	require.NoError(t, err)
	require.Equal(t, [4]byte{198, 51, 100, 1}, firstA(t, msg))
}

func TestWithTCPOnTruncation(t *testing.T) {
	udp := NewUDPRoundTripper(&net.Dialer{}, serveUDP(t, [4]byte{203, 0, 113, 7}, true))
	tcp := NewTCPRoundTripper(&transport.TCPDialer{}, serveTCP(t, [4]byte{198, 51, 100, 1}))
	q, err := NewQuestion("example.com", dnsmessage.TypeA)
	require.NoError(t, err)

	_, err = udp.RoundTrip(testContext(t), *q)
	require.ErrorIs(t, err, ErrTruncated)

	msg, err := WithTCPOnTruncation(udp, tcp).RoundTrip(testContext(t), *q)
	require.NoError(t, err)
	require.Equal(t, [4]byte{198, 51, 100, 1}, firstA(t, msg))
}

func TestCheckResponse(t *testing.T) {
	q, err := NewQuestion("example.com", dnsmessage.TypeA)
	require.NoError(t, err)
	other, err := NewQuestion("example.org", dnsmessage.TypeA)
	require.NoError(t, err)
	upper, err := NewQuestion("EXAMPLE.com", dnsmessage.TypeA)
	require.NoError(t, err)

	ok := &dnsmessage.Message{Header: dnsmessage.Header{ID: 7, Response: true}, Questions: []dnsmessage.Question{*upper}}
	require.NoError(t, checkResponse(7, *q, ok))

	for name, msg := range map[string]*dnsmessage.Message{
		"not a response": {Header: dnsmessage.Header{ID: 7}, Questions: []dnsmessage.Question{*q}},
		"wrong id":       {Header: dnsmessage.Header{ID: 8, Response: true}, Questions: []dnsmessage.Question{*q}},
		"no question":    {Header: dnsmessage.Header{ID: 7, Response: true}},
		"wrong question": {Header: dnsmessage.Header{ID: 7, Response: true}, Questions: []dnsmessage.Question{*other}},
	} {
		require.Error(t, checkResponse(7, *q, msg), name)
	}
}
