package ledger

import (
	"bytes"
	"fmt"
	"sort"
)

// Signers returns the Signers array of a multi-signed transaction.
func Signers(tx Transaction) []map[string]interface{} {
	raw, _ := tx["Signers"].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		wrapper, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if signer, ok := wrapper["Signer"].(map[string]interface{}); ok {
			out = append(out, signer)
		}
	}
	return out
}

// CombineSigners merges the signer entries of independently multi-signed
// copies of the same transaction into base. Entries are ordered by numeric
// account id as the ledger requires; a signer appearing twice keeps its first
// signature.
func CombineSigners(base Transaction, signed ...Transaction) (Transaction, error) {
	out := base.Clone()
	type entry struct {
		id     []byte
		signer map[string]interface{}
	}
	seen := map[string]bool{}
	var entries []entry

	collect := func(tx Transaction) error {
		for _, s := range Signers(tx) {
			account, _ := s["Account"].(string)
			if seen[account] {
				continue
			}
			id, err := DecodeAccountID(account)
			if err != nil {
				return fmt.Errorf("signer %q: %w", account, err)
			}
			seen[account] = true
			entries = append(entries, entry{id: id, signer: s})
		}
		return nil
	}

	if err := collect(base); err != nil {
		return nil, err
	}
	for _, tx := range signed {
		if tx.Field("SigningPubKey") != "" {
			return nil, fmt.Errorf("transaction from %s is single-signed", tx.Account())
		}
		if err := collect(tx); err != nil {
			return nil, err
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no signer entries to combine")
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].id, entries[j].id) < 0
	})
	list := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		list = append(list, map[string]interface{}{"Signer": e.signer})
	}
	out["Signers"] = list
	out["SigningPubKey"] = ""
	return out, nil
}

// CounterpartySigner returns the public key inside CounterpartySignature, if any.
func CounterpartySigner(tx Transaction) (string, bool) {
	cs, ok := tx["CounterpartySignature"].(map[string]interface{})
	if !ok {
		return "", false
	}
	key, _ := cs["SigningPubKey"].(string)
	return key, key != ""
}
