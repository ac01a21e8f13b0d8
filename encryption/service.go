package encryption

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"election-ledger/models"
)

const keyFileName = "ledger_key.json"

// ErrInvalidSignature is returned when a receipt signature cannot be decoded or recovered.
var ErrInvalidSignature = errors.New("invalid receipt signature")

// KeyFile is the on-disk form of the ledger operator key.
type KeyFile struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// CryptoService signs transaction receipts with the ledger operator key.
type CryptoService struct {
	key *ecdsa.PrivateKey
}

func NewCryptoService(key *ecdsa.PrivateKey) *CryptoService {
	return &CryptoService{key: key}
}

// LoadOrGenerateKey restores the operator key from dir, creating one on first start.
func LoadOrGenerateKey(dir string) (*ecdsa.PrivateKey, error) {
	path := filepath.Join(dir, keyFileName)

	if data, err := os.ReadFile(path); err == nil {
		var kf KeyFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("failed to parse ledger key: %w", err)
		}

		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(kf.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to restore ledger key: %w", err)
		}
		return privateKey, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read ledger key: %w", err)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ledger key: %w", err)
	}

	kf := KeyFile{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger key: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to save ledger key: %w", err)
	}

	return privateKey, nil
}

// Address is the hex address receipts are signed by.
func (cs *CryptoService) Address() string {
	return crypto.PubkeyToAddress(cs.key.PublicKey).Hex()
}

// Keccak256 computes Keccak-256 hash
func (cs *CryptoService) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// ReceiptDigest is the message a receipt signature covers.
func (cs *CryptoService) ReceiptDigest(tx models.TransactionDescriptor, blockHash string) []byte {
	msg := strings.Join([]string{
		tx.TransactionID,
		strconv.FormatUint(tx.BlockNumber, 10),
		strconv.FormatInt(tx.Timestamp.UnixMilli(), 10),
		blockHash,
	}, "|")
	return cs.Keccak256([]byte(msg))
}

// SignReceipt signs a transaction descriptor together with the hash of its block.
func (cs *CryptoService) SignReceipt(tx models.TransactionDescriptor, blockHash string) (models.Receipt, error) {
	sig, err := crypto.Sign(cs.ReceiptDigest(tx, blockHash), cs.key)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("failed to sign receipt: %w", err)
	}

	return models.Receipt{
		Transaction: tx,
		BlockHash:   blockHash,
		Signature:   hexutil.Encode(sig),
		Signer:      cs.Address(),
	}, nil
}

// VerifyReceipt reports whether the receipt was signed by this service's key.
func (cs *CryptoService) VerifyReceipt(r models.Receipt) (bool, error) {
	sig, err := hexutil.Decode(r.Signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	pub, err := crypto.SigToPub(cs.ReceiptDigest(r.Transaction, r.BlockHash), sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	signer := crypto.PubkeyToAddress(*pub).Hex()
	return signer == cs.Address() && strings.EqualFold(signer, r.Signer), nil
}
