package wire

import (
	"context"
	"errors"

	"github.com/akiban/pgwire/pkg/buffer"
	"github.com/akiban/pgwire/pkg/types"
)

// authType represents the manner in which a client is able to authenticate.
type authType int32

const (
	// authOK indicates that the connection has been authenticated and the
	// client is allowed to proceed.
	authOK authType = 0
	// authClearTextPassword tells the client to send its password in clear
	// text. It is the only authentication method this server advertises.
	authClearTextPassword authType = 3
)

// AuthStrategy negotiates client authentication for a single connection.
type AuthStrategy func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) error

// handleAuth runs the configured authentication strategy, defaulting to an
// unconditional accept when none is configured.
func (srv *Server) handleAuth(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) error {
	srv.logger.Debug("authenticating client connection")

	if srv.Auth == nil {
		return writeAuthType(writer, authOK)
	}

	return srv.Auth(ctx, writer, reader)
}

// ClearTextPassword advertises AuthenticationCleartextPassword and accepts
// whatever password the client sends. The password is read off the wire (the
// client must send one) but is never compared against anything: Non-goals
// explicitly rule out validating it — any password string succeeds.
func ClearTextPassword() AuthStrategy {
	return func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) error {
		err := writeAuthType(writer, authClearTextPassword)
		if err != nil {
			return err
		}

		t, _, err := reader.ReadTypedMsg()
		if err != nil {
			return err
		}

		if t != types.ClientPassword {
			return errors.New("unexpected password message")
		}

		// NOTE: the password value itself is intentionally discarded.
		_, err = reader.GetString()
		if err != nil {
			return err
		}

		return writeAuthType(writer, authOK)
	}
}

// writeAuthType writes the auth type to the client, informing it about the
// authentication status and the data it is expected to send next.
func writeAuthType(writer *buffer.Writer, status authType) error {
	writer.Start(types.ServerAuth)
	writer.AddInt32(int32(status))
	return writer.End()
}
