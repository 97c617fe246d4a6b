package negotiation

// Machine-readable termination/rejection reason codes, carried over from
// the original Rust implementation's error taxonomy and attached to the
// Protocol and NotFound error kinds (SPEC_FULL §9).
const (
	ReasonProcessNotFound   = "PROCESS.NOT.FOUND"
	ReasonNoOfferFound      = "NO.OFFER.FOUND"
	ReasonIllegalTransition = "NEGOTIATION.TRANSITION.ILLEGAL"
	ReasonIdentifierMismatch = "NEGOTIATION.IDENTIFIER.MISMATCH"
	ReasonOfferCapExceeded  = "NEGOTIATION.OFFER.CAP.EXCEEDED"
	ReasonUnexpectedEvent   = "NEGOTIATION.EVENT.UNEXPECTED"
)

// MaxOffersPerProcess is the default offer cap (SPEC_FULL §9); deployments
// may override it via Config.MaxOffersPerProcess.
const MaxOffersPerProcess = 32
