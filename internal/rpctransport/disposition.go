package rpctransport

import (
	"fmt"

	"github.com/digitorus/pkcs7"

	"github.com/gravitational/libadcs/internal/model"
)

// MS-ICPR disposition codes (spec §4.7, §8 property 7).
const (
	dispositionIssued          = 0x03
	dispositionTakenUnderSubmission = 0x05
)

// toEnrollmentResponse maps a decoded CertServerRequest outcome onto the
// shared EnrollmentResponse variants, the same ones the XCEP/WSTEP path
// produces, so callers never branch on transport.
func toEnrollmentResponse(disposition, requestID uint32, certChain, encodedCert []byte, message string) model.EnrollmentResponse {
	switch disposition {
	case dispositionIssued:
		return model.Issued(encodedCert, chainCertificates(certChain))
	case dispositionTakenUnderSubmission:
		return model.Pending(requestID)
	default:
		return model.Rejected(fmt.Sprintf("rejected (%d): %s", disposition, message))
	}
}

// chainCertificates unwraps pctbCertChain, a PKCS#7 degenerate SignedData
// carrying the issued certificate's chain, into individual DER certificates.
// A malformed or empty chain blob yields no intermediates rather than an
// error, since the leaf certificate alone is still usable.
func chainCertificates(certChain []byte) [][]byte {
	if len(certChain) == 0 {
		return nil
	}
	p7, err := pkcs7.Parse(certChain)
	if err != nil {
		return nil
	}
	out := make([][]byte, 0, len(p7.Certificates))
	for _, cert := range p7.Certificates {
		out = append(out, cert.Raw)
	}
	return out
}
