package aquarius

import (
	"time"
)

const (
	ServiceTypeMetadata = "metadata"
	ServiceTypeAccess   = "access"
	ServiceTypeCompute  = "compute"
)

// EventPoint is the position of a chain event, ordered by block number
// with the log index as the tie-break. Wall-clock time is never used
// for ordering.
type EventPoint struct {
	Block    uint64 `json:"block"`
	TxIndex  uint   `json:"txIndex"`
	LogIndex uint   `json:"logIndex"`
}

// After reports whether p is strictly newer than other.
func (p EventPoint) After(other EventPoint) bool {
	if p.Block != other.Block {
		return p.Block > other.Block
	}
	return p.LogIndex > other.LogIndex
}

func (p EventPoint) IsZero() bool {
	return p.Block == 0 && p.TxIndex == 0 && p.LogIndex == 0
}

type EventType string

const (
	EventMetadataCreated EventType = "MetadataCreated"
	EventMetadataUpdated EventType = "MetadataUpdated"
	EventMetadataRetired EventType = "MetadataRetired"
)

// MetadataEvent is one decoded registry-contract log.
type MetadataEvent struct {
	Type      EventType  `json:"type"`
	DataToken string     `json:"dataToken"`
	Point     EventPoint `json:"point"`
	// Payload is the raw metadata blob carried by create/update events.
	Payload []byte `json:"payload,omitempty"`
}

type DataTokenInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
	Cap      string `json:"cap,omitempty"`
}

// ServiceAttributes is the mutable metadata payload of a service entry.
type ServiceAttributes struct {
	Name                  string         `json:"name,omitempty"`
	Description           string         `json:"description,omitempty"`
	Author                string         `json:"author,omitempty"`
	License               string         `json:"license,omitempty"`
	DateCreated           string         `json:"dateCreated,omitempty"`
	Files                 []FileMeta     `json:"files,omitempty"`
	Price                 string         `json:"price,omitempty"`
	Supply                string         `json:"supply,omitempty"`
	Status                *StatusFlags   `json:"status,omitempty"`
	AdditionalInformation map[string]any `json:"additionalInformation,omitempty"`
}

type FileMeta struct {
	URL           string `json:"url,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength string `json:"contentLength,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
}

type StatusFlags struct {
	IsListed        bool `json:"isListed"`
	IsRetired       bool `json:"isRetired"`
	IsOrderDisabled bool `json:"isOrderDisabled"`
}

// Service is one entry of a DDO's ordered service list.
type Service struct {
	Type       string            `json:"type"`
	Index      int               `json:"index"`
	Attributes ServiceAttributes `json:"attributes"`
}

// Record is a DDO: the stored metadata document for one DID.
type Record struct {
	Context string `json:"@context,omitempty"`
	// ID is the DID. Immutable once created and derived from the
	// datatoken address, see DIDFromAddress.
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated,omitempty"`
	Service []Service `json:"service"`

	DataToken     string         `json:"dataToken"`
	DataTokenInfo *DataTokenInfo `json:"dataTokenInfo,omitempty"`
	ChainID       int64          `json:"chainId,omitempty"`

	IsInPurgatory   bool   `json:"isInPurgatory"`
	PurgatoryReason string `json:"purgatoryReason,omitempty"`

	// Event is the last-processed chain position. Non-decreasing.
	Event EventPoint `json:"event"`
	// Dirty marks a pending plus-index repair after a partial write.
	Dirty bool `json:"-"`
}

// PlusRecord holds the supplementary fields derived off-chain for one
// DID, stored in the plus index.
type PlusRecord struct {
	DID           string    `json:"did"`
	PricePerToken string    `json:"pricePerToken,omitempty"`
	TotalSupply   string    `json:"totalSupply,omitempty"`
	Liquidity     string    `json:"liquidity,omitempty"`
	IsInPurgatory bool      `json:"isInPurgatory"`
	UpdatedBlock  uint64    `json:"updatedBlock"`
	Updated       time.Time `json:"updated,omitempty"`
}

// QuerySpec is a structured store query. Pagination is 1-indexed.
type QuerySpec struct {
	Text     string
	Filters  map[string]string
	Sort     map[string]int
	Page     int
	PageSize int
}

type QueryResult struct {
	Records []Record
	Total   int64
}

// PaginatedResponse is the wire shape of query responses.
type PaginatedResponse struct {
	Results      []Record `json:"results"`
	Page         int      `json:"page"`
	TotalPages   int64    `json:"total_pages"`
	TotalResults int64    `json:"total_results"`
}

// Signal is an index-change notification published over pubsub.
type Signal struct {
	Type string    `json:"type"` // created, updated, retired, repaired
	DID  string    `json:"did"`
	At   time.Time `json:"at"`
}
