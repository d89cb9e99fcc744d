package ledger

import "fmt"

// AffectedNode is one entry of a transaction's metadata AffectedNodes list.
type AffectedNode struct {
	// NodeType is "CreatedNode", "ModifiedNode", or "DeletedNode"
	NodeType        string
	LedgerEntryType string
	LedgerIndex     string
	FinalFields     map[string]interface{}
	PreviousFields  map[string]interface{}
	NewFields       map[string]interface{}
}

const (
	NodeCreated  = "CreatedNode"
	NodeModified = "ModifiedNode"
	NodeDeleted  = "DeletedNode"
)

// ParseAffectedNodes converts the raw meta.AffectedNodes array.
func ParseAffectedNodes(raw []interface{}) ([]AffectedNode, error) {
	nodes := make([]AffectedNode, 0, len(raw))
	for i, item := range raw {
		wrapper, ok := item.(map[string]interface{})
		if !ok || len(wrapper) != 1 {
			return nil, fmt.Errorf("affected node %d: unexpected shape", i)
		}
		for nodeType, body := range wrapper {
			fields, ok := body.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("affected node %d: %s body is not an object", i, nodeType)
			}
			node := AffectedNode{NodeType: nodeType}
			node.LedgerEntryType, _ = fields["LedgerEntryType"].(string)
			node.LedgerIndex, _ = fields["LedgerIndex"].(string)
			node.FinalFields, _ = fields["FinalFields"].(map[string]interface{})
			node.PreviousFields, _ = fields["PreviousFields"].(map[string]interface{})
			node.NewFields, _ = fields["NewFields"].(map[string]interface{})
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// CreatedID returns the index of the first created node of entryType.
// When a transaction creates several objects of the same type the first one
// in metadata order is returned.
func CreatedID(nodes []AffectedNode, entryType string) (string, bool) {
	for _, n := range nodes {
		if n.NodeType == NodeCreated && n.LedgerEntryType == entryType && n.LedgerIndex != "" {
			return n.LedgerIndex, true
		}
	}
	return "", false
}

// CreatedIDs lists every created object index, in metadata order.
func CreatedIDs(nodes []AffectedNode) []string {
	var ids []string
	for _, n := range nodes {
		if n.NodeType == NodeCreated {
			ids = append(ids, n.LedgerIndex)
		}
	}
	return ids
}

// TrustLineCredited reports whether nodes show a trust line whose holder
// side belongs to account gaining tokens. A Batch whose inner payments were
// rolled back still succeeds but carries no such node.
func TrustLineCredited(nodes []AffectedNode, account string) bool {
	for _, n := range nodes {
		if n.NodeType != NodeModified || n.LedgerEntryType != EntryTrustLine {
			continue
		}
		prevBal, ok := n.PreviousFields["Balance"]
		if !ok {
			continue
		}
		prev, ok1 := AmountValue(prevBal)
		final, ok2 := AmountValue(n.FinalFields["Balance"])
		if !ok1 || !ok2 {
			continue
		}
		low, _ := n.FinalFields["LowLimit"].(map[string]interface{})
		high, _ := n.FinalFields["HighLimit"].(map[string]interface{})
		switch account {
		case low["issuer"]:
			if final.GreaterThan(prev) {
				return true
			}
		case high["issuer"]:
			if final.LessThan(prev) {
				return true
			}
		}
	}
	return false
}
