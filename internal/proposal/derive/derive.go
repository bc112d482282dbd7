package derive

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/guess5/match-payout-poc/internal/ledger"
)

// Derivação determinística do endereço da proposta a partir de
// (cofre, índice de transação), no namespace fixo do programa multisig.
// É a única fonte de verdade pra "qual deveria ser o proposalId": o mesmo
// cálculo vale pra criar e pra verificar o valor armazenado.

const seedPrefix = "proposal"

// marcador padrão de derivação fora da curva ed25519
var pdaMarker = []byte("ProgramDerivedAddress")

// ProposalAddress deriva o endereço da proposta. Percorre bumps de 255 a 0
// e devolve o primeiro candidato fora da curva. Só falha com endereço de
// cofre ou programa malformado (ledger.ErrInvalidAddress).
func ProposalAddress(vault string, index int64, programID string) (string, error) {
	vaultKey, err := decodeKey(vault)
	if err != nil {
		return "", fmt.Errorf("vault %q: %w", vault, err)
	}
	programKey, err := decodeKey(programID)
	if err != nil {
		return "", fmt.Errorf("program %q: %w", programID, err)
	}

	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], uint64(index))

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write([]byte(seedPrefix))
		h.Write(vaultKey)
		h.Write(le[:])
		h.Write([]byte{byte(bump)})
		h.Write(programKey)
		h.Write(pdaMarker)
		candidate := h.Sum(nil)

		if !onCurve(candidate) {
			return base58.Encode(candidate), nil
		}
	}

	// estatisticamente inalcançável (256 bumps, ~50% fora da curva cada)
	return "", fmt.Errorf("no off-curve bump for vault %s index %d: %w",
		vault, index, ledger.ErrInvalidAddress)
}

// decodeKey valida e decodifica uma chave base58 de 32 bytes
func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, ledger.ErrInvalidAddress
	}
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		return nil, ledger.ErrInvalidAddress
	}
	return b, nil
}

// onCurve verifica se os 32 bytes formam um ponto válido de ed25519.
// Endereço derivado precisa estar FORA da curva (não tem chave privada).
func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
