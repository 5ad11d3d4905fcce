package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
	"github.com/akiban/pgwire/pkg/buffer"
	"github.com/akiban/pgwire/pkg/types"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorResponseEmitsSeverityAndMessage(t *testing.T) {
	var out bytes.Buffer
	logger := slogt.New(t)
	writer := buffer.NewWriter(logger, &out)

	err := pgerror.WithCode(errors.New("boom"), codes.Syntax)
	require.NoError(t, writeErrorResponse(writer, err))

	reader := buffer.NewReader(logger, &out, 0)
	typ, _, rerr := reader.ReadTypedMsg()
	require.NoError(t, rerr)
	assert.Equal(t, types.ServerErrorResponse, types.ServerMessage(typ))

	fields := readErrorFields(t, reader)
	assert.Equal(t, "ERROR", fields['S'])
	assert.Equal(t, "boom", fields['M'])

	// SQLSTATE is never emitted.
	_, hasCode := fields['C']
	assert.False(t, hasCode)
}

func TestWriteErrorResponseUsesDeclaredSeverity(t *testing.T) {
	var out bytes.Buffer
	logger := slogt.New(t)
	writer := buffer.NewWriter(logger, &out)

	err := pgerror.WithSeverity(pgerror.WithCode(errors.New("cancel"), codes.QueryCanceled), pgerror.LevelError)
	require.NoError(t, writeErrorResponse(writer, err))

	reader := buffer.NewReader(logger, &out, 0)
	_, _, rerr := reader.ReadTypedMsg()
	require.NoError(t, rerr)

	fields := readErrorFields(t, reader)
	assert.Equal(t, "ERROR", fields['S'])
	assert.Equal(t, "cancel", fields['M'])
}

// readErrorFields decodes the field/value pairs of an ErrorResponse body
// already positioned at the start of its payload, stopping at the trailing
// NUL terminator.
func readErrorFields(t *testing.T, reader *buffer.Reader) map[byte]string {
	t.Helper()

	fields := make(map[byte]string)
	for {
		b, err := reader.GetBytes(1)
		require.NoError(t, err)

		if b[0] == 0 {
			return fields
		}

		value, err := reader.GetString()
		require.NoError(t, err)
		fields[b[0]] = value
	}
}
