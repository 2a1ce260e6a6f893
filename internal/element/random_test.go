package element

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/hsm/hsmtest"
)

func TestRandomSource(t *testing.T) {
	mock := &hsmtest.Transport{
		RandomFunc: func(_ context.Context, _ hsm.RandomSource, out []byte) hsm.Status {
			for i := range out {
				out[i] = byte(i)
			}
			return hsm.StatusOK
		},
	}

	out, err := Random(context.Background(), mock, 32, true)
	require.NoError(t, err)
	assert.Len(t, out, 32)
	assert.Equal(t, byte(31), out[31])

	_, err = Random(context.Background(), mock, 8, false)
	require.NoError(t, err)

	require.Len(t, mock.RandomCalls, 2)
	assert.Equal(t, hsmtest.RandomCall{Source: hsm.TRNG, Length: 32}, mock.RandomCalls[0])
	assert.Equal(t, hsmtest.RandomCall{Source: hsm.DRNG, Length: 8}, mock.RandomCalls[1])
}

func TestRandomLengthBounds(t *testing.T) {
	mock := &hsmtest.Transport{}
	for _, n := range []int{-1, 0, 7, 257, 4096} {
		_, err := Random(context.Background(), mock, n, true)
		assert.ErrorIs(t, err, ErrInvalidLength, "n=%d", n)
	}
	assert.Zero(t, mock.CallCount())

	for _, n := range []int{MinRandomLength, MaxRandomLength} {
		out, err := Random(context.Background(), mock, n, true)
		require.NoError(t, err)
		assert.Len(t, out, n)
	}
}

func TestRandomHardwareFault(t *testing.T) {
	mock := &hsmtest.Transport{
		RandomFunc: func(context.Context, hsm.RandomSource, []byte) hsm.Status { return 0x6f00 },
	}
	out, err := Random(context.Background(), mock, 16, true)
	assert.Nil(t, out)

	var hf *hsm.HardwareFault
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, hsm.Status(0x6f00), hf.Code)
}

func TestRandomNilTransport(t *testing.T) {
	_, err := Random(context.Background(), nil, 16, true)
	assert.ErrorIs(t, err, ErrNilTransport)
}
