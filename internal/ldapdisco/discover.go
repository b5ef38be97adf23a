// Package ldapdisco resolves a global catalog server for a realm, binds to
// it with Kerberos, and enumerates the Public Key Services containers
// (spec §4.3). It owns the one LDAP connection a Manager is built around and
// the transitive-group-membership cache that hangs off it (spec §5,
// "Shared resources").
package ldapdisco

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sort"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
	"github.com/gravitational/trace"

	"github.com/gravitational/libadcs/internal/adcserr"
	"github.com/gravitational/libadcs/internal/kerberos"
	"github.com/gravitational/libadcs/internal/model"
)

// sdFlagsControlOID requests DACL-only security descriptors (MS-ADTS
// 3.1.1.3.4.1.11): value is a DER SEQUENCE{ INTEGER 7 }.
const sdFlagsControlOID = "1.2.840.113556.1.4.801"

// Manager owns the one LDAP connection and group-membership cache a
// discovery/enumeration session is built around (spec §5).
type Manager struct {
	conn       *ldap.Conn
	logger     *slog.Logger
	sdFlags    ldap.Control
	rootDSE    model.RootDSE
	principal  model.Principal
	groupCache map[string]bool
}

// candidateDomains builds the successive left-trimmed domain suffixes of
// realm, per spec §4.3 step 1: "a.b.c", "b.c", "c".
func candidateDomains(realm string) []string {
	labels := strings.Split(realm, ".")
	out := make([]string, 0, len(labels))
	for i := range labels {
		out = append(out, strings.Join(labels[i:], "."))
	}
	return out
}

// srvTarget is one candidate global-catalog server, ready to dial.
type srvTarget struct {
	scheme string // "ldap" or "ldaps"
	host   string
	port   uint16
}

// resolveTargets performs spec §4.3 steps 1-3: DNS-SRV lookups across
// progressively-trimmed domain suffixes, sorted by priority ascending and,
// within a priority tier, by a weighted-random score (uniform(1,64) *
// weight) descending.
func resolveTargets(realm string) ([]srvTarget, error) {
	var allErrs []error
	for _, domain := range candidateDomains(realm) {
		for _, scheme := range []string{"ldap", "ldaps"} {
			name := fmt.Sprintf("gc._msdcs.%s", domain)
			_, addrs, err := net.LookupSRV(scheme, "tcp", name)
			if err != nil {
				allErrs = append(allErrs, err)
				continue
			}
			if len(addrs) == 0 {
				continue
			}
			return rankSRV(scheme, addrs), nil
		}
	}
	return nil, adcserr.NoSRVRecords(realm, allErrs)
}

func rankSRV(scheme string, addrs []*net.SRV) []srvTarget {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		scoreI := uint32(rand.Intn(64)+1) * uint32(addrs[i].Weight)
		scoreJ := uint32(rand.Intn(64)+1) * uint32(addrs[j].Weight)
		return scoreI > scoreJ
	})
	out := make([]srvTarget, len(addrs))
	for i, a := range addrs {
		out[i] = srvTarget{scheme: scheme, host: strings.TrimSuffix(a.Target, "."), port: a.Port}
	}
	return out
}

// Discover resolves a global catalog server for realm, binds with
// Kerberos, attaches the server-side SD-flags control, and queries the
// root DSE and calling principal (spec §4.3 steps 1-5).
func Discover(realm string, creds kerberos.Credentials) (*Manager, error) {
	targets, err := resolveTargets(realm)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var bindErrs []error
	for _, t := range targets {
		conn, err := bindTarget(t, creds)
		if err != nil {
			bindErrs = append(bindErrs, trace.Wrap(err, "ldapdisco: %s://%s:%d", t.scheme, t.host, t.port))
			continue
		}
		mgr := &Manager{
			conn:       conn,
			logger:     slog.Default().With("component", "ldapdisco"),
			sdFlags:    sdFlagsControl(),
			groupCache: make(map[string]bool),
		}
		if err := mgr.loadRootDSE(); err != nil {
			conn.Close()
			bindErrs = append(bindErrs, err)
			continue
		}
		if err := mgr.loadPrincipal(); err != nil {
			conn.Close()
			bindErrs = append(bindErrs, err)
			continue
		}
		return mgr, nil
	}
	return nil, adcserr.AllBindsFailed(bindErrs)
}

func bindTarget(t srvTarget, creds kerberos.Credentials) (*ldap.Conn, error) {
	addr := fmt.Sprintf("%s://%s:%d", t.scheme, t.host, t.port)
	conn, err := ldap.DialURL(addr)
	if err != nil {
		return nil, trace.Wrap(err, "dial")
	}

	krbClient, err := kerberos.New(creds)
	if err != nil {
		conn.Close()
		return nil, trace.Wrap(err, "kerberos client")
	}
	defer krbClient.Close()

	spn := "ldap/" + t.host
	if err := conn.GSSAPIBind(krbClient, spn, ""); err != nil {
		conn.Close()
		return nil, trace.Wrap(err, "gssapi bind")
	}
	return conn, nil
}

// sdFlagsControl returns the server-side-SD-flags control requesting
// DACL-only security descriptors (spec §4.3 step 4). The control value
// itself is a trivial BER SEQUENCE{ INTEGER 7 }, built directly with
// go-asn1-ber rather than this repository's own CMC/CMS-oriented der
// package, since go-ldap's controls package already pulls in asn1-ber as
// its own BER primitive.
func sdFlagsControl() ldap.Control {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "SDFlagsRequestValue")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(7), "Flags"))
	return ldap.NewControlString(sdFlagsControlOID, true, string(seq.Bytes()))
}

// Close releases the underlying LDAP connection. Safe on a Manager that
// never bound (a zero value), so callers can defer it unconditionally.
func (m *Manager) Close() error {
	if m == nil || m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// RootDSE returns the previously-queried root DSE.
func (m *Manager) RootDSE() model.RootDSE { return m.rootDSE }

// Principal returns the previously-resolved calling principal.
func (m *Manager) Principal() model.Principal { return m.principal }
