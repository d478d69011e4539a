package cardano

import (
	"encoding/hex"
	"fmt"

	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

// PaymentCredential extracts the hex payment credential (key or script
// hash) from a bech32 address. Pool qualification compares this against
// the classifiers' pool script hashes.
func PaymentCredential(address string) (string, error) {
	addr, err := lcommon.NewAddress(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	return hex.EncodeToString(addr.PaymentKeyHash().Bytes()), nil
}
