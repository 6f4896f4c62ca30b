package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndVerify(t *testing.T) {
	data := []byte("date,amount\n2024-01-01,10\n")
	meta, err := Seal(data, map[string]string{"owner": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", meta["owner"])
	assert.Equal(t, "26", meta[MetaOriginalSize])
	assert.Len(t, meta[MetaOriginalHash], 32)

	require.NoError(t, Verify("h", data, meta))

	flipped := append([]byte(nil), data...)
	flipped[0] ^= 0xff
	assert.ErrorIs(t, Verify("h", flipped, meta), ErrHashMismatch)
	assert.ErrorIs(t, Verify("h", data[:10], meta), ErrSizeMismatch)
	assert.ErrorIs(t, Verify("h", nil, meta), ErrEmptyResult)
	assert.ErrorIs(t, Verify("h", data, map[string]string{MetaOriginalSize: "x", MetaOriginalHash: meta[MetaOriginalHash]}), ErrIntegrity)
}

func TestSealRejectsEmptyPayload(t *testing.T) {
	_, err := Seal(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestVerifyAcceptsUppercaseDigest(t *testing.T) {
	data := []byte{0x00, 0x01}
	require.NoError(t, Verify("h", data, map[string]string{MetaOriginalSize: "2", MetaOriginalHash: "441077CC9E57554DD476BDFB8B8B8102"}))
	assert.ErrorIs(t, Verify("h", data, map[string]string{MetaOriginalSize: "2", MetaOriginalHash: "00000000000000000000000000000000"}), ErrHashMismatch)
}

func TestVerifyRejectsUnsealedContent(t *testing.T) {
	data := []byte("date,amount\n2024-01-01,10\n")
	sealed, err := Seal(data, nil)
	require.NoError(t, err)

	for _, drop := range []string{MetaOriginalHash, MetaOriginalSize} {
		meta := map[string]string{}
		for k, v := range sealed {
			if k != drop {
				meta[k] = v
			}
		}
		err := Verify("h", data, meta)
		assert.ErrorIs(t, err, ErrMissingMetadata, drop)
		assert.ErrorIs(t, err, ErrIntegrity, drop)
	}
	assert.ErrorIs(t, Verify("h", data, nil), ErrMissingMetadata)
}
