package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type fakeInputRegisters struct {
	data []byte
	err  error

	calls       int
	lastAddress uint16
	lastQty     uint16
}

func (f *fakeInputRegisters) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	f.calls++
	f.lastAddress, f.lastQty = address, quantity
	return f.data, f.err
}

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestTCPClientFetch(t *testing.T) {

	errTimeout := errors.New("i/o timeout")

	tests := []struct {
		name        string
		address     uint16
		wordCount   uint8
		data        []byte
		readErr     error
		expected    string
		expectedErr error
	}{
		{
			name:      "Battery voltage",
			address:   0x0026,
			wordCount: 1,
			data:      []byte{17, 5},
			expected:  "1,4,2,17,5",
		},
		{
			name:      "Amp hours",
			address:   0x0034,
			wordCount: 2,
			data:      []byte{0, 2, 194, 242},
			expected:  "1,4,4,0,2,194,242",
		},
		{
			name:        "Read failure",
			address:     0x0018,
			wordCount:   2,
			readErr:     errTimeout,
			expectedErr: errTimeout,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			reader := &fakeInputRegisters{data: test.data, err: test.readErr}
			client := &TCPClient{conn: &fakeConn{}, client: reader, logger: slog.Default()}

			text, err := client.Fetch(context.Background(), test.address, test.wordCount)
			assert.Equal(t, test.address, reader.lastAddress)
			assert.Equal(t, uint16(test.wordCount), reader.lastQty)

			if test.expectedErr != nil {
				var fetchErr *Error
				require.ErrorAs(t, err, &fetchErr)
				assert.Equal(t, test.address, fetchErr.Address)
				assert.Equal(t, test.wordCount, fetchErr.WordCount)
				assert.ErrorIs(t, err, test.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, text)
		})
	}
}

func TestTCPClientCancelled(t *testing.T) {
	reader := &fakeInputRegisters{data: []byte{17, 5}}
	client := &TCPClient{conn: &fakeConn{}, client: reader, logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, 0x0026, 1)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, reader.calls)
}

func TestTCPClientClose(t *testing.T) {
	conn := &fakeConn{}
	client := &TCPClient{conn: conn, client: &fakeInputRegisters{}, logger: slog.Default()}
	require.NoError(t, client.Close())
	assert.True(t, conn.closed)
}

func TestNewTCPClientRequiresHost(t *testing.T) {
	_, err := NewTCPClient("", 1, 0)
	assert.ErrorContains(t, err, "host required")
}
