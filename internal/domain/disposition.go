package domain

// ItemDisposition is what happened to one feed record during a crawl page.
type ItemDisposition string

const (
	ItemDispositionRejected  ItemDisposition = "rejected"
	ItemDispositionNew       ItemDisposition = "new"
	ItemDispositionChanged   ItemDisposition = "changed"
	ItemDispositionUnchanged ItemDisposition = "unchanged"
	ItemDispositionFailed    ItemDisposition = "failed"
)
