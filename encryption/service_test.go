package encryption

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"election-ledger/models"
)

func newTestService(t *testing.T) (*CryptoService, string) {
	t.Helper()
	dir := t.TempDir()
	key, err := LoadOrGenerateKey(dir)
	require.NoError(t, err)
	return NewCryptoService(key), dir
}

func TestLoadOrGenerateKeyPersists(t *testing.T) {
	cs, dir := newTestService(t)

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrGenerateKey(dir)
	require.NoError(t, err)
	require.Equal(t, cs.Address(), NewCryptoService(again).Address())
}

func TestLoadOrGenerateKeyRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("{"), 0600))

	_, err := LoadOrGenerateKey(dir)
	require.Error(t, err)
}

func TestSignAndVerifyReceipt(t *testing.T) {
	cs, _ := newTestService(t)
	tx := models.TransactionDescriptor{
		TransactionID: models.NewTransactionID("VOT1", 3, time.Unix(1700000000, 0)),
		BlockNumber:   4,
		Timestamp:     time.Unix(1700000000, 5e6),
	}

	receipt, err := cs.SignReceipt(tx, "00abc")
	require.NoError(t, err)
	require.Equal(t, cs.Address(), receipt.Signer)

	ok, err := cs.VerifyReceipt(receipt)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("AlteredBlockNumber", func(t *testing.T) {
		forged := receipt
		forged.Transaction.BlockNumber = 5
		ok, err := cs.VerifyReceipt(forged)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("OtherSigner", func(t *testing.T) {
		other, _ := newTestService(t)
		ok, err := other.VerifyReceipt(receipt)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("Garbage", func(t *testing.T) {
		forged := receipt
		forged.Signature = "0xzz"
		_, err := cs.VerifyReceipt(forged)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}
