package ledger

import "encoding/binary"

// Key namespaces. Trades are stored offeror-first so an offeror's partition
// is a single prefix range; trades_by_asset mirrors them asset-first.
const (
	nsConfig        = "config"
	nsOperations    = "operations"
	nsSales         = "sales"
	nsSalesByOwner  = "sales_by_owner"
	nsTrades        = "trades"
	nsTradesByAsset = "trades_by_asset"
	nsGateway       = "gateway"
)

// key builds a storage key from a namespace and its components. Every
// component but the last is length-prefixed, so the last one sorts
// lexicographically inside the partition formed by the others.
func key(ns string, parts ...string) []byte {
	size := 2 + len(ns)
	for _, p := range parts {
		size += 2 + len(p)
	}
	buf := make([]byte, 0, size)
	buf = appendPrefixed(buf, ns)
	for i, p := range parts {
		if i == len(parts)-1 {
			buf = append(buf, p...)
			continue
		}
		buf = appendPrefixed(buf, p)
	}
	return buf
}

// prefix builds the range prefix covering every key whose leading components
// equal parts.
func prefix(ns string, parts ...string) []byte {
	buf := appendPrefixed(nil, ns)
	for _, p := range parts {
		buf = appendPrefixed(buf, p)
	}
	return buf
}

func appendPrefixed(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}
