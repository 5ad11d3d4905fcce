package wire

// ParameterStatus names a key in the set of run-time parameters a server
// reports to a client via ParameterStatus messages.
// https://www.postgresql.org/docs/current/libpq-status.html
type ParameterStatus string

const (
	ParamClientEncoding       ParameterStatus = "client_encoding"
	ParamServerEncoding       ParameterStatus = "server_encoding"
	ParamServerVersion        ParameterStatus = "server_version"
	ParamSessionAuthorization ParameterStatus = "session_authorization"
)
