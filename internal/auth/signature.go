package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentEscrow-Chain/internal/errors"
)

// Header names carried by signed API requests.
const (
	HeaderAccount   = "X-Account"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// CanonicalMessage is the byte string a caller signs for one request.
func CanonicalMessage(method, path string, timestamp int64, body []byte) []byte {
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		hex.EncodeToString(digest[:]),
	}, "\n"))
}

// Sign produces an EIP-191 personal signature over message.
func Sign(key *ecdsa.PrivateKey, message []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// VerifySignature checks that sigHex is account's EIP-191 signature over message.
func VerifySignature(account string, message []byte, sigHex string) error {
	if !common.IsHexAddress(account) {
		return xerrors.New(xerrors.CodeUnauthorized, "account is not a hex address")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return xerrors.New(xerrors.CodeUnauthorized, "malformed signature")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnauthorized, err, "signature recovery failed")
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(account) {
		return xerrors.New(xerrors.CodeUnauthorized, "signature does not match account")
	}
	return nil
}

// CheckFreshness rejects timestamps further than skew from now.
func CheckFreshness(timestamp int64, now time.Time, skew time.Duration) error {
	delta := now.Sub(time.Unix(timestamp, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return xerrors.New(xerrors.CodeUnauthorized, "request timestamp outside accepted skew")
	}
	return nil
}
