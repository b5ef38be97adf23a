// Package kerberos implements the GSS-API client go-ldap's GSSAPIBindRequest
// needs for a SASL-GSSAPI bind (spec §4.3), and a raw AP-REQ/AP-REP exchange
// reusable by the SOAP transport's HTTP Negotiate loop (spec §4.5).
//
// LDAP's SASL GSSAPI mechanism (RFC 4752) exchanges bare Kerberos GSS-API
// tokens, not SPNEGO-negotiated ones, so this client talks to gokrb5's
// gssapi package directly instead of going through its spnego wrapper.
package kerberos

import (
	"github.com/gravitational/trace"
	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Credentials selects how Client authenticates to its realm: by password,
// by keytab, or by an existing credentials cache. At least one of Password,
// KeytabPath, or CCachePath must be set; when several are, KeytabPath is
// used first, then CCachePath, then Password.
type Credentials struct {
	Realm        string
	Username     string
	Password     string
	KeytabPath   string
	CCachePath   string
	Krb5ConfPath string
}

// Client implements go-ldap's GSSAPIClient interface (Close,
// DeleteSecContext, InitSecContext, NegotiateSaslAuth) backed by gokrb5.
type Client struct {
	krb5 *client.Client

	ticket     messages.Ticket
	sessionKey types.EncryptionKey
	seqNumber  int64
	established bool
}

// New logs in to the Kerberos realm described by creds and returns a Client
// ready to drive a SASL-GSSAPI bind.
func New(creds Credentials) (*Client, error) {
	confPath := creds.Krb5ConfPath
	if confPath == "" {
		confPath = "/etc/krb5.conf"
	}
	conf, err := config.Load(confPath)
	if err != nil {
		return nil, trace.Wrap(err, "kerberos: load %s", confPath)
	}

	var cl *client.Client
	switch {
	case creds.KeytabPath != "":
		kt, err := keytab.Load(creds.KeytabPath)
		if err != nil {
			return nil, trace.Wrap(err, "kerberos: load keytab %s", creds.KeytabPath)
		}
		cl = client.NewWithKeytab(creds.Username, creds.Realm, kt, conf, client.DisablePAFXFAST(true))
	case creds.CCachePath != "":
		cc, err := credentials.LoadCCache(creds.CCachePath)
		if err != nil {
			return nil, trace.Wrap(err, "kerberos: load ccache %s", creds.CCachePath)
		}
		cl, err = client.NewFromCCache(cc, conf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, trace.Wrap(err, "kerberos: client from ccache")
		}
	case creds.Password != "":
		cl = client.NewWithPassword(creds.Username, creds.Realm, creds.Password, conf, client.DisablePAFXFAST(true))
	default:
		return nil, trace.BadParameter("kerberos: no credentials supplied")
	}

	if err := cl.Login(); err != nil {
		return nil, trace.Wrap(err, "kerberos: login as %s@%s", creds.Username, creds.Realm)
	}
	return &Client{krb5: cl}, nil
}

// Close releases the underlying Kerberos client's resources.
func (c *Client) Close() error {
	c.krb5.Destroy()
	return nil
}

// DeleteSecContext discards any established security context so the client
// can be reused for a fresh bind.
func (c *Client) DeleteSecContext() error {
	c.established = false
	c.ticket = messages.Ticket{}
	c.sessionKey = types.EncryptionKey{}
	return nil
}

// InitSecContext implements RFC 4752 §3.1's first leg: obtain a service
// ticket for target and wrap it (plus mutual-auth flags) in a GSS-API
// AP-REQ token. Called again with the server's response token, it confirms
// the mutual-authentication AP-REP and marks the context established.
func (c *Client) InitSecContext(target string, token []byte) ([]byte, bool, error) {
	if token == nil {
		tkt, key, err := c.krb5.GetServiceTicket(target)
		if err != nil {
			return nil, false, trace.Wrap(err, "kerberos: service ticket for %s", target)
		}
		c.ticket = tkt
		c.sessionKey = key

		ctxToken, err := gssapi.NewInitiatorContextToken(&c.ticket, c.sessionKey, []int{
			gssapi.ContextFlagInteg,
			gssapi.ContextFlagConf,
			gssapi.ContextFlagMutual,
		})
		if err != nil {
			return nil, false, trace.Wrap(err, "kerberos: build context token")
		}
		out, err := ctxToken.Marshal()
		if err != nil {
			return nil, false, trace.Wrap(err, "kerberos: marshal context token")
		}
		return out, true, nil
	}

	var aprep messages.APRep
	if err := aprep.Unmarshal(token); err != nil {
		return nil, false, trace.Wrap(err, "kerberos: unmarshal ap-rep")
	}
	if err := aprep.DecryptEncPart(c.sessionKey); err != nil {
		return nil, false, trace.AccessDenied("kerberos: decrypt ap-rep: %v", err)
	}
	c.established = true
	return nil, false, nil
}

// NegotiateSaslAuth completes RFC 4752 §3.1's final leg: decode the
// server's security-layer negotiation octets and echo back a signed
// (unencrypted, since this library carries its own TLS) selection of "no
// security layer", per RFC 4752 §3.3.
func (c *Client) NegotiateSaslAuth(token []byte, authzid string) ([]byte, error) {
	if !c.established {
		return nil, trace.BadParameter("kerberos: security context not established")
	}

	unwrapped, err := gssapi.NewInitiatorWrapTokenFromBytes(token, c.sessionKey)
	if err != nil {
		return nil, trace.Wrap(err, "kerberos: unwrap server negotiation token")
	}
	payload := unwrapped.Payload
	if len(payload) != 4 {
		return nil, trace.BadParameter("kerberos: bad server security-layer token")
	}

	response := make([]byte, 4, 4+len(authzid))
	response[0] = 0x00 // no security layer selected; TLS carries confidentiality
	response = append(response, []byte(authzid)...)

	c.seqNumber++
	wt, err := gssapi.NewInitiatorWrapToken(response, c.sessionKey)
	if err != nil {
		return nil, trace.Wrap(err, "kerberos: build negotiation response token")
	}
	out, err := wt.Marshal()
	if err != nil {
		return nil, trace.Wrap(err, "kerberos: marshal negotiation response token")
	}
	return out, nil
}
