package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	signature := mac.Sum(nil)
	return hex.EncodeToString(signature)
}

func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.String("received", signature))
		return false, fmt.Errorf("invalid signature")
	}

	return true, nil
}

// CommitHash derives the identifier of the commit at the given ledger height.
func (s *Signer) CommitHash(payload []byte, height uint64) string {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return s.Sign(append(h[:], payload...))
}

func (s *Signer) VerifyCommit(payload []byte, height uint64, commitID string) (bool, error) {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return s.Verify(append(h[:], payload...), commitID)
}
