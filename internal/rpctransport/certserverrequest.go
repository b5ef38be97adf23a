package rpctransport

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/model"
)

// CertServerRequest issues one MS-ICPR CertServerRequest call over an
// already-bound Client (spec §4.7): submits cmcRequest against authority,
// with attribs carrying the "CertificateTemplate:<name>\n..." request
// attributes string, and maps the disposition to an EnrollmentResponse.
// requestID is the pdwRequestId in/out parameter: 0 for a fresh submission,
// or a previously-returned Pending request id to poll its disposition (MS-
// WCCE's poll convention, carried through from certutil -q: an empty
// cmcRequest with a nonzero requestID asks the CA for the current status
// of that pending request rather than submitting a new one).
func CertServerRequest(c *Client, dwFlags uint32, authority, attribs string, requestID uint32, cmcRequest []byte) (model.EnrollmentResponse, error) {
	w := newNDRWriter()
	w.uint32(dwFlags)
	if err := w.wideString(authority); err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err)
	}
	w.uint32(requestID)
	w.certTransBlob([]byte(attribs))
	w.certTransBlob(cmcRequest)

	respStub, err := c.Call(w.bytes())
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err)
	}

	r := newNDRReader(respStub)
	requestID, err := r.uint32()
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err, "rpctransport: decode pdwRequestId")
	}
	disposition, err := r.uint32()
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err, "rpctransport: decode pdwDisposition")
	}
	certChain, err := r.certTransBlob()
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err, "rpctransport: decode pctbCertChain")
	}
	encodedCert, err := r.certTransBlob()
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err, "rpctransport: decode pctbEncodedCert")
	}
	message, err := r.wideString()
	if err != nil {
		return model.EnrollmentResponse{}, trace.Wrap(err, "rpctransport: decode pwszDispositionMessage")
	}

	return toEnrollmentResponse(disposition, requestID, certChain, encodedCert, message), nil
}
