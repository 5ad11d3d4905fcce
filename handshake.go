package wire

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/akiban/pgwire/pkg/types"
)

// serverVersion is the literal value announced as the server_version
// parameter status. It does not track this module's own version; it is the
// version string Postgres clients are told to expect from the SQL engine
// fronted by this protocol core.
const serverVersion = "8.4.7"

// readStartupMessage reads the startup key/value properties sent by the
// client, applies the client_encoding property to the framer, and
// constructs this connection's session, parser and compiler from the
// "database" property.
func (c *Connection) readStartupMessage(ctx context.Context) error {
	props := make(map[string]string)

	for {
		key, err := c.fr.Reader().GetString()
		if err != nil {
			return err
		}

		if key == "" {
			break
		}

		value, err := c.fr.Reader().GetString()
		if err != nil {
			return err
		}

		props[key] = value
	}

	if enc, ok := props["client_encoding"]; ok {
		if enc == "UNICODE" {
			enc = "UTF-8"
		}
		c.fr.SetEncoding(enc)
	}

	c.startupProperties = props

	session, parser, compiler, err := c.srv.Session(ctx, props["database"])
	if err != nil {
		return err
	}

	c.session = session
	c.parser = parser
	c.compiler = compiler
	return nil
}

// handleSSLNegotiation politely refuses a TLS upgrade unless the server has
// been configured with a TLSConfig, matching the Non-goal that SSL/TLS
// support beyond a polite refusal is out of scope. It returns the protocol
// version that follows the negotiation, read fresh off either the original
// or the upgraded connection.
func (c *Connection) handleSSLNegotiation(version types.Version) (types.Version, error) {
	if version != types.VersionSSLRequest {
		return version, nil
	}

	if c.srv.TLSConfig == nil {
		if _, err := c.fr.Conn().Write(sslUnsupported); err != nil {
			return version, err
		}

		return c.fr.ReadVersion()
	}

	if _, err := c.fr.Conn().Write(sslSupported); err != nil {
		return version, err
	}

	upgraded := tls.Server(c.fr.Conn(), c.srv.TLSConfig)
	c.fr.UpgradeTLS(upgraded, c.srv.BufferedMsgSize)
	return c.fr.ReadVersion()
}

// handleCancelRequest reads the (pid, secret) pair carried by a cancel-shaped
// startup frame and, if it names a live connection whose secret matches,
// sets that connection's cancel flag. This is fire-and-forget: the caller
// closes this connection immediately afterward regardless of whether a
// match was found, and no delivery confirmation is ever sent back.
func (c *Connection) handleCancelRequest() error {
	pid, err := c.fr.Reader().GetInt32()
	if err != nil {
		return fmt.Errorf("failed to read process ID from cancel request: %w", err)
	}

	secret, err := c.fr.Reader().GetInt32()
	if err != nil {
		return fmt.Errorf("failed to read secret key from cancel request: %w", err)
	}

	target := c.srv.getConnection(pid)
	if target != nil && target.secret == secret {
		target.fr.SetCancel(true)
	}

	return nil
}

// authenticate runs the server's configured AuthStrategy and, once it
// succeeds, writes the parameter statuses, backend key data and the initial
// ReadyForQuery that complete the handshake.
func (c *Connection) authenticate(ctx context.Context) error {
	if err := c.srv.handleAuth(ctx, c.fr.Reader(), c.fr.Writer()); err != nil {
		return err
	}

	statuses := [...][2]string{
		{string(ParamClientEncoding), c.fr.GetEncoding()},
		{string(ParamServerEncoding), c.fr.GetEncoding()},
		{string(ParamServerVersion), serverVersion},
		{string(ParamSessionAuthorization), c.startupProperties["user"]},
	}

	for _, kv := range statuses {
		if err := c.writeParameterStatus(kv[0], kv[1]); err != nil {
			return err
		}
	}

	if err := c.writeBackendKeyData(); err != nil {
		return err
	}

	return c.writeReadyForQuery()
}

func (c *Connection) writeParameterStatus(key, value string) error {
	c.fr.BeginMessage(types.ServerParameterStatus)
	c.fr.Writer().AddString(key)
	c.fr.Writer().AddNullTerminate()
	c.fr.Writer().AddString(value)
	c.fr.Writer().AddNullTerminate()
	return c.fr.SendMessage()
}

func (c *Connection) writeBackendKeyData() error {
	c.fr.BeginMessage(types.ServerBackendKeyData)
	c.fr.Writer().AddInt32(c.pid)
	c.fr.Writer().AddInt32(c.secret)
	return c.fr.SendMessage()
}
