package models

// DefaultLedgerTable is the EPEX intraday ledger the reports are run against.
const DefaultLedgerTable = "epex_12_20_12_13"

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade represents one executed trade in the ledger.
// The ledger is owned by whoever filled it, so there is no primary key or
// gorm bookkeeping here: the columns are exactly the ones the reports read.
type Trade struct {
	Side     string  `gorm:"column:side" json:"side"` // "buy" or "sell"
	Quantity float64 `gorm:"column:quantity" json:"quantity"`
	Price    float64 `gorm:"column:price" json:"price"`
	Strategy string  `gorm:"column:strategy" json:"strategy"`
}

// TableName points gorm at the default ledger table.
func (Trade) TableName() string {
	return DefaultLedgerTable
}
