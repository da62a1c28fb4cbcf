package extract

import (
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeContentHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ComputeContentHash(""))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ComputeContentHash("abc"))
}

func TestComputeContentHash_Stable(t *testing.T) {
	text := strings.Repeat("Exhibit 12, page 4. ", 50)

	assert.Equal(t, ComputeContentHash(text), ComputeContentHash(text))
	assert.NotEqual(t, ComputeContentHash(text), ComputeContentHash(text[:len(text)-1]+"!"))
}

func TestHasher_Algorithms(t *testing.T) {
	sum, err := NewHasher("").Sum("abc")
	require.NoError(t, err)
	assert.Equal(t, ComputeContentHash("abc"), sum)

	sum, err = NewHasher("BLAKE3").Sum("")
	require.NoError(t, err)
	assert.Equal(t, "blake3:af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", sum)

	a, err := NewHasher(AlgorithmBLAKE3).Sum("text")
	require.NoError(t, err)
	b, err := NewHasher(AlgorithmBLAKE3).Sum("texT")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHasher_UnknownAlgorithm(t *testing.T) {
	_, err := NewHasher("md4").Sum("abc")

	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrHashUnavailable))
}
