package domain

const (
	RequesterAddressCtxKey  = "aq-requesterAddress"
	RequesterLoopbackCtxKey = "aq-requesterLoopback"
)

const (
	SignalChannel = "aquarius:signals"

	SignalCreated  = "created"
	SignalUpdated  = "updated"
	SignalRetired  = "retired"
	SignalRepaired = "repaired"
)

// PlusIndexSuffix derives the plus index name from the main index name.
const PlusIndexSuffix = "_plus"
