// Package rpctransport implements the MS-ICPR CertServerRequest call over
// DCE/RPC (spec §4.7): a minimal ncacn_ip_tcp bind/request/response
// exchange carrying NDR-encoded parameters, authenticated with SPNEGO
// (rpc_c_authn_gss_negotiate). No general-purpose Go DCE/RPC library
// exists among this module's dependencies, so the wire format is hand-
// rolled directly against encoding/binary, same as internal/der hand-rolls
// ASN.1 DER.
package rpctransport

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

const (
	pduTypeBind       = 11
	pduTypeBindAck    = 12
	pduTypeRequest    = 0
	pduTypeResponse   = 2
	pduTypeFault      = 3
	pduTypeAuth3      = 16

	rpcVersionMajor = 5
	rpcVersionMinor = 0

	authTypeGSSNegotiate = 9 // RPC_C_AUTHN_GSS_NEGOTIATE
	authLevelConnect     = 2 // RPC_C_AUTHN_LEVEL_CONNECT
)

// icertPassageInterface is the MS-ICPR ICertPassage interface UUID,
// version 0.0.
var icertPassageInterface = uuid.MustParse("91ae6020-9e3c-11cf-8d7c-00aa00c091be")

// ndrTransferSyntax is the NDR 2.0 transfer syntax UUID every DCE/RPC
// implementation negotiates for.
var ndrTransferSyntax = uuid.MustParse("8a885d04-1ceb-11c9-9fe8-08002b104860")

// pduHeader is the common DCE/RPC 1.1 PDU header (all ncacn_ip_tcp PDUs
// begin with this, spec MS-RPCE 2.2.2.9).
type pduHeader struct {
	PacketType    byte
	Flags         byte
	DataRepresentation uint32
	FragLength    uint16
	AuthLength    uint16
	CallID        uint32
}

func writeHeader(buf *bytes.Buffer, h pduHeader) {
	buf.WriteByte(rpcVersionMajor)
	buf.WriteByte(rpcVersionMinor)
	buf.WriteByte(h.PacketType)
	buf.WriteByte(h.Flags)
	binary.Write(buf, binary.LittleEndian, h.DataRepresentation)
	binary.Write(buf, binary.LittleEndian, h.FragLength)
	binary.Write(buf, binary.LittleEndian, h.AuthLength)
	binary.Write(buf, binary.LittleEndian, h.CallID)
}

// littleEndianDataRep is the common NDR data-representation value: little
// endian integers, ASCII chars, IEEE float.
const littleEndianDataRep = 0x00000010

// buildBindPDU constructs a bind request offering one context (ICertPassage
// over NDR) with a GSS-Negotiate security trailer carrying the initial
// SPNEGO token.
func buildBindPDU(callID uint32, maxXmitFrag, maxRecvFrag uint16, assocGroup uint32, authToken []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, maxXmitFrag)
	binary.Write(&body, binary.LittleEndian, maxRecvFrag)
	binary.Write(&body, binary.LittleEndian, assocGroup)
	body.WriteByte(1) // num context items
	body.Write([]byte{0, 0, 0})
	binary.Write(&body, binary.LittleEndian, uint16(0)) // context id
	body.WriteByte(1)                                   // num transfer syntaxes
	body.WriteByte(0)
	writeUUIDLE(&body, icertPassageInterface)
	binary.Write(&body, binary.LittleEndian, uint16(0)) // interface version major
	binary.Write(&body, binary.LittleEndian, uint16(0)) // interface version minor
	writeUUIDLE(&body, ndrTransferSyntax)
	binary.Write(&body, binary.LittleEndian, uint32(2)) // transfer syntax version

	authLen := writeAuthTrailer(&body, authToken)

	var out bytes.Buffer
	writeHeader(&out, pduHeader{
		PacketType:         pduTypeBind,
		Flags:              0x03, // first frag | last frag
		DataRepresentation: littleEndianDataRep,
		FragLength:         uint16(16 + body.Len()),
		AuthLength:         uint16(authLen),
		CallID:             callID,
	})
	out.Write(body.Bytes())
	return out.Bytes()
}

// writeAuthTrailer appends the sec_trailer (MS-RPCE 2.2.2.11) with the
// given initial GSS-Negotiate token, returning the auth value's length
// (not counting the 8-byte trailer header) for the PDU header's
// auth_length field.
func writeAuthTrailer(buf *bytes.Buffer, token []byte) int {
	if len(token) == 0 {
		return 0
	}
	buf.WriteByte(authTypeGSSNegotiate)
	buf.WriteByte(authLevelConnect)
	buf.WriteByte(0) // auth pad length
	buf.WriteByte(0) // auth reserved
	binary.Write(buf, binary.LittleEndian, uint32(0)) // auth context id
	buf.Write(token)
	return len(token)
}

func writeUUIDLE(buf *bytes.Buffer, u uuid.UUID) {
	// UUIDs on the wire are mixed-endian: first three fields little-endian,
	// last two fields (clock_seq + node) big-endian, per MS-DTYP 2.3.4.
	b := u[:]
	buf.WriteByte(b[3])
	buf.WriteByte(b[2])
	buf.WriteByte(b[1])
	buf.WriteByte(b[0])
	buf.WriteByte(b[5])
	buf.WriteByte(b[4])
	buf.WriteByte(b[7])
	buf.WriteByte(b[6])
	buf.Write(b[8:16])
}

// buildAuth3PDU sends the third leg of the GSS-Negotiate handshake: no
// stub data, just the continuation token in the sec_trailer.
func buildAuth3PDU(callID uint32, authToken []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(0)) // auth padding (none)
	authLen := writeAuthTrailer(&body, authToken)

	var out bytes.Buffer
	writeHeader(&out, pduHeader{
		PacketType:         pduTypeAuth3,
		Flags:              0x03,
		DataRepresentation: littleEndianDataRep,
		FragLength:         uint16(16 + body.Len()),
		AuthLength:         uint16(authLen),
		CallID:             callID,
	})
	out.Write(body.Bytes())
	return out.Bytes()
}

// buildRequestPDU wraps an NDR parameter stream for opnum on the bound
// context, with an optional GSS-Negotiate continuation token.
func buildRequestPDU(callID uint32, opnum uint16, stub []byte, authToken []byte) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(len(stub))) // alloc hint
	binary.Write(&body, binary.LittleEndian, uint16(0))         // context id
	binary.Write(&body, binary.LittleEndian, opnum)
	body.Write(stub)

	authLen := writeAuthTrailer(&body, authToken)

	var out bytes.Buffer
	writeHeader(&out, pduHeader{
		PacketType:         pduTypeRequest,
		Flags:              0x03,
		DataRepresentation: littleEndianDataRep,
		FragLength:         uint16(16 + body.Len()),
		AuthLength:         uint16(authLen),
		CallID:             callID,
	})
	out.Write(body.Bytes())
	return out.Bytes()
}

// bindAckResult holds the parts of a bind_ack this client needs: whether
// the server accepted the offered context, and any GSS continuation token
// riding along in the sec_trailer.
type bindAckResult struct {
	accepted  bool
	authToken []byte
}

// parseBindAck decodes a bind_ack PDU body (everything after the 16-byte
// common header, per h.FragLength). A fault, a bind_nak or any other PDU
// type is returned as an error.
func parseBindAck(h pduHeader, body []byte) (bindAckResult, error) {
	if h.PacketType == pduTypeFault {
		return bindAckResult{}, trace.BadParameter("rpctransport: server rejected bind (fault)")
	}
	if h.PacketType != pduTypeBindAck {
		return bindAckResult{}, trace.BadParameter("rpctransport: unexpected pdu type %d in place of bind_ack", h.PacketType)
	}
	if len(body) < 8 {
		return bindAckResult{}, trace.BadParameter("rpctransport: truncated bind_ack")
	}
	secAddrLen := int(binary.LittleEndian.Uint16(body[4:6]))
	pos := 6 + secAddrLen
	pos += (4 - pos%4) % 4 // align to 4 bytes before the result list
	if pos+4 > len(body) {
		return bindAckResult{}, trace.BadParameter("rpctransport: truncated bind_ack result list")
	}
	numResults := int(body[pos])
	pos += 4
	accepted := false
	for i := 0; i < numResults && pos+24 <= len(body); i++ {
		result := binary.LittleEndian.Uint16(body[pos : pos+2])
		if result == 0 { // acceptance
			accepted = true
		}
		pos += 24
	}

	var authToken []byte
	if h.AuthLength > 0 && len(body) >= int(h.AuthLength)+8 {
		trailerStart := len(body) - int(h.AuthLength) - 8
		authToken = body[trailerStart+8:]
	}
	return bindAckResult{accepted: accepted, authToken: authToken}, nil
}

// splitAuthTrailer separates a request/response PDU body into its stub
// data and trailing GSS continuation token, if any.
func splitAuthTrailer(h pduHeader, body []byte) (stub, authToken []byte) {
	if h.AuthLength == 0 {
		return body, nil
	}
	trailerStart := len(body) - int(h.AuthLength) - 8
	if trailerStart < 0 {
		return body, nil
	}
	return body[:trailerStart], body[trailerStart+8:]
}

func parseHeader(b []byte) (pduHeader, error) {
	if len(b) < 16 {
		return pduHeader{}, trace.BadParameter("rpctransport: pdu shorter than header")
	}
	return pduHeader{
		PacketType:         b[2],
		Flags:              b[3],
		DataRepresentation: binary.LittleEndian.Uint32(b[4:8]),
		FragLength:         binary.LittleEndian.Uint16(b[8:10]),
		AuthLength:         binary.LittleEndian.Uint16(b[10:12]),
		CallID:             binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}
