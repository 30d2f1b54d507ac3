package models

import (
	"time"
)

var (
	mainTable = "oceandb"
	plusTable = "oceandb_plus"
)

// SetIndexNames points the models at the configured main and plus
// tables. Call before any migration or query.
func SetIndexNames(main, plus string) {
	mainTable = main
	plusTable = plus
}

func (Asset) TableName() string { return mainTable }

func (AssetPlus) TableName() string { return plusTable }

// Asset is one row of the main index: the full DDO document plus the
// scalar columns reconciliation and queries filter on.
type Asset struct {
	DID       string `json:"did" gorm:"primaryKey;type:text"`
	DataToken string `json:"dataToken" gorm:"type:text;index"`

	// Document is the serialized DDO.
	Document string `json:"document" gorm:"type:text"`

	// SearchText is the concatenated name/description/author text the
	// full-text query matches against.
	SearchText string `json:"-" gorm:"type:text;index"`

	IsInPurgatory bool `json:"isInPurgatory" gorm:"type:boolean;not null;default:false;index"`

	// Last-processed chain position. Written atomically with Document.
	LastBlock    uint64 `json:"lastBlock" gorm:"not null;default:0"`
	LastTxIndex  uint   `json:"lastTxIndex" gorm:"not null;default:0"`
	LastLogIndex uint   `json:"lastLogIndex" gorm:"not null;default:0"`

	// Dirty is set when the plus-index write failed after a successful
	// main-index write. Repaired on the next reconciliation.
	Dirty bool `json:"dirty" gorm:"type:boolean;not null;default:false;index"`

	CDate time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate time.Time `json:"mdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// AssetPlus is one row of the plus index: derived fields computed
// off-chain for the same DID. At most one row per Asset.
type AssetPlus struct {
	DID           string    `json:"did" gorm:"primaryKey;type:text"`
	PricePerToken string    `json:"pricePerToken" gorm:"type:text"`
	TotalSupply   string    `json:"totalSupply" gorm:"type:text"`
	Liquidity     string    `json:"liquidity" gorm:"type:text"`
	IsInPurgatory bool      `json:"isInPurgatory" gorm:"type:boolean;not null;default:false"`
	UpdatedBlock  uint64    `json:"updatedBlock" gorm:"not null;default:0"`
	MDate         time.Time `json:"mdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}
