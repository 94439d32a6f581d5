package domain

// Config is the engine's singleton configuration, written once at
// instantiation.
type Config struct {
	CustodyAddress string `json:"custody_address"`
}

// Sale is a fixed-price listing of one escrowed asset.
type Sale struct {
	AssetID  string `json:"asset_id"`
	Price    uint64 `json:"price"`
	Owner    string `json:"owner"`
	Tradable bool   `json:"tradable"`
}

// Trade is a standing offer to swap OfferedAssetID for the asset behind the
// sale of AskedAssetID. Keyed by (AskedAssetID, Offeror).
type Trade struct {
	AskedAssetID   string `json:"asked_asset_id"`
	OfferedAssetID string `json:"offered_asset_id"`
	Offeror        string `json:"offeror"`
}

// Operations counts completed settlements observed by the reply handler.
type Operations struct {
	CompletedSales  uint64 `json:"completed_sales"`
	CompletedTrades uint64 `json:"completed_trades"`
}
