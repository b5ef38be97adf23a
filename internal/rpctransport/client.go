package rpctransport

import (
	"context"
	"net"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/kerberos"
)

const certServerRequestOpnum = 0

// Client is one bound ncacn_ip_tcp connection to a CA's ICertPassage
// endpoint, opened for a single enrollment attempt and freed on Close
// (spec §5: "RPC binding: opened per service attempt, freed on drop").
type Client struct {
	conn   net.Conn
	krb    *kerberos.Client
	callID uint32
}

// Dial opens a TCP connection to addr (host:port, conventionally port 135's
// endpoint-mapper result or a fixed CA port) and performs the DCE/RPC bind
// and GSS-Negotiate handshake against the ICertPassage interface.
func Dial(ctx context.Context, addr, spn string, creds kerberos.Credentials) (client *Client, err error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err, "rpctransport: dial %s", addr)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	krb, err := kerberos.New(creds)
	if err != nil {
		return nil, trace.Wrap(err, "rpctransport: kerberos client")
	}
	defer func() {
		if err != nil {
			krb.Close()
		}
	}()

	c := &Client{conn: conn, krb: krb, callID: 1}
	if err := c.handshake(spn); err != nil {
		return nil, trace.Wrap(err)
	}
	return c, nil
}

func (c *Client) handshake(spn string) error {
	token, _, err := c.krb.InitSecContext(spn, nil)
	if err != nil {
		return trace.Wrap(err, "rpctransport: initial security context")
	}

	if err := c.writeFrame(buildBindPDU(c.callID, 5840, 5840, 0, token)); err != nil {
		return trace.Wrap(err)
	}
	h, body, err := c.readFrame()
	if err != nil {
		return trace.Wrap(err, "rpctransport: read bind_ack")
	}
	ack, err := parseBindAck(h, body)
	if err != nil {
		return trace.Wrap(err)
	}
	if !ack.accepted {
		return trace.BadParameter("rpctransport: server did not accept ICertPassage/NDR context")
	}

	if len(ack.authToken) > 0 {
		next, continueNeeded, err := c.krb.InitSecContext(spn, ack.authToken)
		if err != nil {
			return trace.Wrap(err, "rpctransport: continue security context")
		}
		if continueNeeded && len(next) > 0 {
			if err := c.writeFrame(buildAuth3PDU(c.callID, next)); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	return nil
}

// Call issues a CertServerRequest (opnum 0) and returns the response
// PDU's NDR-encoded stub data.
func (c *Client) Call(stub []byte) ([]byte, error) {
	c.callID++
	if err := c.writeFrame(buildRequestPDU(c.callID, certServerRequestOpnum, stub, nil)); err != nil {
		return nil, trace.Wrap(err)
	}
	h, body, err := c.readFrame()
	if err != nil {
		return nil, trace.Wrap(err, "rpctransport: read response")
	}
	if h.PacketType == pduTypeFault {
		return nil, trace.BadParameter("rpctransport: server returned a fault pdu")
	}
	if h.PacketType != pduTypeResponse {
		return nil, trace.BadParameter("rpctransport: unexpected pdu type %d in place of response", h.PacketType)
	}
	if len(body) < 8 {
		return nil, trace.BadParameter("rpctransport: truncated response pdu")
	}
	stubOut, _ := splitAuthTrailer(h, body[8:])
	return stubOut, nil
}

// Close releases the security context and the TCP connection. It is safe
// to call multiple times and is intended to run on every exit path,
// errors and panics included.
func (c *Client) Close() error {
	if c.krb != nil {
		c.krb.DeleteSecContext()
		c.krb.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) writeFrame(pdu []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	_, err := c.conn.Write(pdu)
	return err
}

// readFrame reads one DCE/RPC PDU: the fixed 16-byte header, then
// FragLength-16 more bytes of body. This module never negotiates
// fragmentation across multiple PDUs (spec §4.7's payloads fit within a
// single frag at the fragment sizes offered during bind).
func (c *Client) readFrame() (pduHeader, []byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var hdr [16]byte
	if _, err := fullRead(c.conn, hdr[:]); err != nil {
		return pduHeader{}, nil, trace.Wrap(err, "rpctransport: read pdu header")
	}
	h, err := parseHeader(hdr[:])
	if err != nil {
		return pduHeader{}, nil, trace.Wrap(err)
	}
	if h.FragLength < 16 {
		return pduHeader{}, nil, trace.BadParameter("rpctransport: frag_length %d shorter than header", h.FragLength)
	}
	body := make([]byte, h.FragLength-16)
	if _, err := fullRead(c.conn, body); err != nil {
		return pduHeader{}, nil, trace.Wrap(err, "rpctransport: read pdu body")
	}
	return h, body, nil
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
